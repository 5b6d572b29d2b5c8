package mifare

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/SimplyPrint/classic-agent/internal/mifare/mifaretest"
)

func TestDumpAllBlankCard(t *testing.T) {
	sim := mifaretest.New1K()
	s := newSimSession(t, sim)

	var progress []int
	report := s.DumpAll(context.Background(), DefaultKeyStore(), WithSectorReport(func(sr SectorReport) {
		progress = append(progress, sr.Index)
	}))

	if report.Truncated {
		t.Fatalf("unexpected truncation: %s", report.Reason)
	}
	if len(report.Sectors) != 16 || report.AuthenticatedCount() != 16 {
		t.Fatalf("sectors = %d, authenticated = %d", len(report.Sectors), report.AuthenticatedCount())
	}
	if len(progress) != 16 || progress[15] != 15 {
		t.Errorf("progress callbacks = %v", progress)
	}
	for i, sr := range report.Sectors {
		if sr.Index != i || sr.State != StateDone || len(sr.Blocks) != 4 {
			t.Errorf("sector %d: %+v", i, sr)
		}
		if sr.Attempts != 1 || sr.KeyType != "A" {
			t.Errorf("sector %d opened after %d attempts with key %s", i, sr.Attempts, sr.KeyType)
		}
	}

	s0, _ := report.Sector(0)
	if s0.Blocks[0].Role != RoleManufacturer || string(s0.Blocks[0].Data[:4]) != string(sim.UID) {
		t.Errorf("block 0 = %+v", s0.Blocks[0])
	}
	if s0.Blocks[3].Role != RoleTrailer {
		t.Errorf("block 3 role = %v", s0.Blocks[3].Role)
	}
}

func TestDumpAllSectorFailureContinues(t *testing.T) {
	sim := mifaretest.New1K()
	sim.SetKeys(3, customKey, customKey)
	s := newSimSession(t, sim)

	report := s.DumpAll(context.Background(), DefaultKeyStore())

	if report.Truncated || len(report.Sectors) != 16 {
		t.Fatalf("truncated=%v sectors=%d", report.Truncated, len(report.Sectors))
	}
	if failed := report.FailedSectors(); len(failed) != 1 || failed[0] != 3 {
		t.Errorf("FailedSectors() = %v, want [3]", failed)
	}
	s3, _ := report.Sector(3)
	if s3.Authenticated || len(s3.Blocks) != 0 || s3.Attempts != DefaultKeyStore().Len() {
		t.Errorf("sector 3 = %+v", s3)
	}
	if !strings.Contains(s3.Error, "no valid key found") {
		t.Errorf("sector 3 error = %q", s3.Error)
	}
	if s4, _ := report.Sector(4); !s4.Authenticated {
		t.Error("sector 4 should be read after sector 3 failed")
	}
}

func TestDumpAllBlockErrorsRecorded(t *testing.T) {
	sim := mifaretest.New1K()
	sim.DenyRead(9)
	sim.SetValue(10, 250)
	s := newSimSession(t, sim)

	report := s.DumpAll(context.Background(), DefaultKeyStore())
	s2, ok := report.Sector(2)
	if !ok || len(s2.Blocks) != 4 {
		t.Fatalf("sector 2 = %+v", s2)
	}

	denied := s2.Blocks[1]
	if denied.OK() || denied.Kind != KindBlockAccessDenied.String() || denied.Data != nil {
		t.Errorf("block 9 = %+v", denied)
	}
	if !s2.Blocks[0].OK() || !s2.Blocks[3].OK() {
		t.Error("neighbouring blocks should still be read")
	}

	value := s2.Blocks[2]
	if value.Role != RoleValue || value.Value == nil || value.Value.Value != 250 {
		t.Errorf("block 10 = %+v", value)
	}
}

func TestDumpAllTruncatesOnLoss(t *testing.T) {
	sim := mifaretest.New1K()
	sim.RemoveOnAuth(6)
	s := newSimSession(t, sim)

	report := s.DumpAll(context.Background(), DefaultKeyStore())

	if !report.Truncated || report.TruncatedAt != 6 {
		t.Fatalf("truncated=%v at=%d", report.Truncated, report.TruncatedAt)
	}
	if len(report.Sectors) != 6 {
		t.Fatalf("expected sectors 0-5, got %d", len(report.Sectors))
	}
	if _, ok := report.Sector(6); ok {
		t.Error("the sector in progress must not be reported")
	}
	if !strings.Contains(report.Reason, "transceiver_lost") {
		t.Errorf("Reason = %q", report.Reason)
	}
}

func TestDumpAllLossMidSector(t *testing.T) {
	sim := mifaretest.New1K()
	s := newSimSession(t, sim)
	// load key, then auth + 4 reads per sector: sector 0 completes, sector 1 dies on its second read.
	sim.RemoveAfter(1 + 5 + 2)

	report := s.DumpAll(context.Background(), DefaultKeyStore())
	if !report.Truncated || report.TruncatedAt != 1 || len(report.Sectors) != 1 {
		t.Fatalf("truncated=%v at=%d sectors=%d", report.Truncated, report.TruncatedAt, len(report.Sectors))
	}
}

func TestDumpAllCanceled(t *testing.T) {
	sim := mifaretest.New1K()
	s := newSimSession(t, sim)

	ctx, cancel := context.WithCancel(context.Background())
	report := s.DumpAll(ctx, DefaultKeyStore(), WithSectorReport(func(sr SectorReport) {
		if sr.Index == 1 {
			cancel()
		}
	}))

	if !report.Truncated || report.TruncatedAt != 2 || len(report.Sectors) != 2 {
		t.Fatalf("truncated=%v at=%d sectors=%d", report.Truncated, report.TruncatedAt, len(report.Sectors))
	}
}

func TestDumpAll4K(t *testing.T) {
	sim := mifaretest.New4K()
	s := newSimSession(t, sim)

	report := s.DumpAll(context.Background(), DefaultKeyStore())
	if len(report.Sectors) != 40 {
		t.Fatalf("sectors = %d", len(report.Sectors))
	}
	if n := len(report.Sectors[32].Blocks); n != 16 {
		t.Errorf("sector 32 has %d blocks, want 16", n)
	}
	if got := report.Sectors[39].Blocks[15].Index; got != 255 {
		t.Errorf("last block index = %d", got)
	}
}

func TestSectorTransitions(t *testing.T) {
	valid := [][2]SectorState{
		{StatePending, StateAuthenticating},
		{StateAuthenticating, StateAuthenticated},
		{StateAuthenticating, StateAuthFailed},
		{StateAuthenticated, StateReadingBlocks},
		{StateReadingBlocks, StateDone},
		{StateAuthFailed, StateDone},
	}
	for _, tr := range valid {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("%v -> %v should be allowed", tr[0], tr[1])
		}
	}
	invalid := [][2]SectorState{
		{StatePending, StateReadingBlocks},
		{StateAuthFailed, StateReadingBlocks},
		{StateDone, StatePending},
		{StateAuthenticated, StateAuthFailed},
	}
	for _, tr := range invalid {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("%v -> %v should be rejected", tr[0], tr[1])
		}
	}
}

func TestDumpReportJSON(t *testing.T) {
	sim := mifaretest.NewMini()
	s := newSimSession(t, sim)

	report := s.DumpAll(context.Background(), DefaultKeyStore())
	out, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	js := string(out)
	for _, want := range []string{`"uid":"04A1B2C3"`, `"cardType":"MIFARE Mini"`, `"role":"manufacturer"`, `"keyType":"A"`} {
		if !strings.Contains(js, want) {
			t.Errorf("JSON missing %s", want)
		}
	}
	if strings.Contains(js, `"State"`) {
		t.Error("internal state should not be serialised")
	}
}
