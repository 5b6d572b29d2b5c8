package api

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/SimplyPrint/classic-agent/internal/core"
	"github.com/SimplyPrint/classic-agent/internal/mifare"
	"github.com/SimplyPrint/classic-agent/internal/mifare/mifaretest"
)

// mockCards implements core.CardOperations with canned results and records
// the arguments of the last call.
type mockCards struct {
	mu sync.Mutex

	readers []core.Reader
	card    *core.Card
	report  *mifare.DumpReport
	block   *core.BlockResult
	value   *core.ValueResult
	err     error
	ring    *core.KeyRing

	cardCalls int
	lastBlock int
	lastKey   *mifare.Key
	lastData  []byte
	lastOp    core.ValueOp
	lastValue int32
	lastKeyA  [mifare.KeySize]byte
	lastKeyB  [mifare.KeySize]byte
}

func newMockCards() *mockCards {
	return &mockCards{
		readers: []core.Reader{
			{Index: 0, Name: "ACS ACR122U PICC Interface", Contactless: true},
		},
		card: &core.Card{
			UID:         "04A1B2C3",
			Type:        mifare.Card1K.String(),
			Protocol:    "NFC-A",
			ProtocolISO: "ISO 14443-3A",
			Size:        1024,
			Sectors:     16,
			Blocks:      64,
		},
		ring: core.NewKeyRing(nil, mifare.KeyA),
	}
}

// useMock installs m as the card backend for the duration of the test.
func useMock(t *testing.T, m *mockCards) {
	t.Helper()
	orig := cards
	SetCardService(m)
	t.Cleanup(func() { SetCardService(orig) })
}

// simulatedDump runs a real dump against a factory fresh simulated 1K card.
func simulatedDump(sim *mifaretest.Card) *mifare.DumpReport {
	card := mifare.Card{UID: sim.UID, ATR: sim.ATR, Type: mifare.CardTypeFromATR(sim.ATR)}
	return mifare.NewSession(sim, card).DumpAll(context.Background(), mifare.DefaultKeyStore())
}

func (m *mockCards) ListReaders() []core.Reader {
	return m.readers
}

func (m *mockCards) ReaderByIndex(index int) (string, error) {
	if index < 0 || index >= len(m.readers) {
		return "", fmt.Errorf("%w: index %d", core.ErrNoReader, index)
	}
	return m.readers[index].Name, nil
}

func (m *mockCards) GetCard(readerName string) (*core.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cardCalls++
	if m.err != nil {
		return nil, m.err
	}
	return m.card, nil
}

func (m *mockCards) setCard(card *core.Card, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.card, m.err = card, err
}

func (m *mockCards) Dump(ctx context.Context, readerName string, onSector func(mifare.SectorReport)) (*mifare.DumpReport, error) {
	if m.err != nil {
		return nil, m.err
	}
	if onSector != nil {
		for _, s := range m.report.Sectors {
			onSector(s)
		}
	}
	return m.report, nil
}

func (m *mockCards) ReadBlock(readerName string, block int, key *mifare.Key) (*core.BlockResult, error) {
	m.lastBlock, m.lastKey = block, key
	if m.err != nil {
		return nil, m.err
	}
	return m.block, nil
}

func (m *mockCards) WriteBlock(readerName string, block int, data []byte, key *mifare.Key) error {
	m.lastBlock, m.lastData, m.lastKey = block, data, key
	return m.err
}

func (m *mockCards) ReadValue(readerName string, block int, key *mifare.Key) (*core.ValueResult, error) {
	m.lastBlock, m.lastKey = block, key
	if m.err != nil {
		return nil, m.err
	}
	return m.value, nil
}

func (m *mockCards) UpdateValue(readerName string, block int, op core.ValueOp, amount int32, key *mifare.Key) (*core.ValueResult, error) {
	m.lastBlock, m.lastOp, m.lastValue, m.lastKey = block, op, amount, key
	if m.err != nil {
		return nil, m.err
	}
	return m.value, nil
}

func (m *mockCards) ChangeKeys(readerName string, sector int, auth *mifare.Key, keyA, keyB [mifare.KeySize]byte) error {
	m.lastBlock, m.lastKey, m.lastKeyA, m.lastKeyB = sector, auth, keyA, keyB
	return m.err
}

func (m *mockCards) Keys() *core.KeyRing {
	return m.ring
}
