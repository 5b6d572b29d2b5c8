package mifare

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/SimplyPrint/classic-agent/internal/logging"
)

// SectorState is the per-sector state during a dump.
type SectorState int

const (
	StatePending SectorState = iota
	StateAuthenticating
	StateAuthenticated
	StateReadingBlocks
	StateAuthFailed
	StateDone
)

func (s SectorState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateReadingBlocks:
		return "reading_blocks"
	case StateAuthFailed:
		return "auth_failed"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("SectorState(%d)", int(s))
	}
}

var sectorTransitions = map[SectorState][]SectorState{
	StatePending:        {StateAuthenticating},
	StateAuthenticating: {StateAuthenticated, StateAuthFailed},
	StateAuthenticated:  {StateReadingBlocks},
	StateReadingBlocks:  {StateDone},
	StateAuthFailed:     {StateDone},
}

// CanTransition reports whether a sector may move from one state to the next.
func CanTransition(from, to SectorState) bool {
	for _, s := range sectorTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HexBytes marshals as an uppercase hex string.
type HexBytes []byte

func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(strings.ToUpper(hex.EncodeToString(h))), nil
}

func (h *HexBytes) UnmarshalText(b []byte) error {
	v, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// BlockReport is the result of reading one block.
type BlockReport struct {
	Index int         `json:"index" cbor:"1,keyasint"`
	Role  Role        `json:"role" cbor:"2,keyasint"`
	Data  HexBytes    `json:"data,omitempty" cbor:"3,keyasint,omitempty"`
	Value *ValueBlock `json:"value,omitempty" cbor:"4,keyasint,omitempty"`
	Error string      `json:"error,omitempty" cbor:"5,keyasint,omitempty"`
	Kind  string      `json:"errorKind,omitempty" cbor:"6,keyasint,omitempty"`
}

// OK reports whether the block was read.
func (b BlockReport) OK() bool { return b.Error == "" }

// SectorReport is the result for one sector. Authenticated sectors carry one
// BlockReport per block; failed sectors carry none.
type SectorReport struct {
	Index         int           `json:"index" cbor:"1,keyasint"`
	State         SectorState   `json:"-" cbor:"-"`
	Authenticated bool          `json:"authenticated" cbor:"2,keyasint"`
	KeyType       string        `json:"keyType,omitempty" cbor:"3,keyasint,omitempty"`
	Key           HexBytes      `json:"key,omitempty" cbor:"4,keyasint,omitempty"`
	Attempts      int           `json:"attempts" cbor:"5,keyasint"`
	Blocks        []BlockReport `json:"blocks,omitempty" cbor:"6,keyasint,omitempty"`
	Error         string        `json:"error,omitempty" cbor:"7,keyasint,omitempty"`
}

func (r *SectorReport) to(next SectorState) {
	if !CanTransition(r.State, next) {
		panic(fmt.Sprintf("mifare: sector %d: invalid transition %s -> %s", r.Index, r.State, next))
	}
	r.State = next
}

// DumpReport is the result of DumpAll. Sectors holds, in index order, every sector
// that reached a final state. When the transceiver is lost the report is truncated
// and the sector in progress is not included.
type DumpReport struct {
	UID         HexBytes       `json:"uid" cbor:"1,keyasint"`
	CardType    CardType       `json:"cardType" cbor:"2,keyasint"`
	SectorCount int            `json:"sectorCount" cbor:"3,keyasint"`
	Sectors     []SectorReport `json:"sectors" cbor:"4,keyasint"`
	Truncated   bool           `json:"truncated" cbor:"5,keyasint"`
	Reason      string         `json:"reason,omitempty" cbor:"6,keyasint,omitempty"`
	TruncatedAt int            `json:"truncatedAt,omitempty" cbor:"7,keyasint,omitempty"`
	StartedAt   time.Time      `json:"startedAt" cbor:"8,keyasint"`
	Duration    time.Duration  `json:"durationNs" cbor:"9,keyasint"`
}

// Sector returns the report for sector index, if present.
func (d *DumpReport) Sector(index int) (SectorReport, bool) {
	for _, s := range d.Sectors {
		if s.Index == index {
			return s, true
		}
	}
	return SectorReport{}, false
}

// AuthenticatedCount returns the number of sectors that were read.
func (d *DumpReport) AuthenticatedCount() int {
	n := 0
	for _, s := range d.Sectors {
		if s.Authenticated {
			n++
		}
	}
	return n
}

// FailedSectors lists the sectors no key opened.
func (d *DumpReport) FailedSectors() []int {
	var out []int
	for _, s := range d.Sectors {
		if !s.Authenticated {
			out = append(out, s.Index)
		}
	}
	return out
}

// DumpOption configures DumpAll.
type DumpOption func(*dumpConfig)

type dumpConfig struct {
	onSector func(SectorReport)
}

// WithSectorReport registers a callback invoked after each completed sector.
func WithSectorReport(fn func(SectorReport)) DumpOption {
	return func(c *dumpConfig) { c.onSector = fn }
}

// DumpAll authenticates and reads every sector in index order. Per-sector and
// per-block failures are recorded in the report; only a lost transceiver or
// cancellation of ctx stops the walk early. The returned report is never nil.
func (s *Session) DumpAll(ctx context.Context, keys *KeyStore, opts ...DumpOption) *DumpReport {
	var cfg dumpConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	card := s.Card()
	report := &DumpReport{
		UID:         HexBytes(card.UID),
		CardType:    card.Type,
		SectorCount: s.layout.SectorCount(),
		Sectors:     make([]SectorReport, 0, s.layout.SectorCount()),
		StartedAt:   time.Now(),
	}
	logging.Info(logging.CatDump, "Dump started", map[string]any{
		"uid":      hex.EncodeToString(card.UID),
		"cardType": card.Type.String(),
		"keys":     keys.Len(),
	})

	for sector := 0; sector < report.SectorCount; sector++ {
		if err := ctx.Err(); err != nil {
			report.truncate(sector, err)
			break
		}
		sr, err := s.dumpSector(sector, keys)
		if err != nil {
			report.truncate(sector, err)
			break
		}
		report.Sectors = append(report.Sectors, sr)
		if cfg.onSector != nil {
			cfg.onSector(sr)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	logging.Info(logging.CatDump, "Dump finished", map[string]any{
		"sectors":       len(report.Sectors),
		"authenticated": report.AuthenticatedCount(),
		"truncated":     report.Truncated,
		"duration":      report.Duration.String(),
	})
	return report
}

func (d *DumpReport) truncate(sector int, err error) {
	d.Truncated = true
	d.TruncatedAt = sector
	d.Reason = err.Error()
	logging.Warn(logging.CatDump, "Dump truncated", map[string]any{
		"sector": sector,
		"error":  err.Error(),
	})
}

// dumpSector runs one sector to a final state. It returns an error only for
// failures that end the dump.
func (s *Session) dumpSector(sector int, keys *KeyStore) (SectorReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr := SectorReport{Index: sector, State: StatePending}
	sr.to(StateAuthenticating)

	actx, attempts, err := s.authenticate(sector, keys)
	sr.Attempts = attempts
	if err != nil {
		if IsFatal(err) {
			return SectorReport{}, err
		}
		sr.to(StateAuthFailed)
		sr.Error = err.Error()
		sr.to(StateDone)
		return sr, nil
	}

	sr.to(StateAuthenticated)
	sr.Authenticated = true
	sr.KeyType = actx.KeyType.String()
	sr.Key = HexBytes(append([]byte(nil), actx.Key[:]...))

	sr.to(StateReadingBlocks)
	for _, block := range s.layout.Blocks(sector) {
		br := BlockReport{Index: block, Role: s.layout.StaticRole(block)}
		data, err := s.readBlock(actx, block)
		switch {
		case IsFatal(err):
			return SectorReport{}, err
		case err != nil:
			br.Error = err.Error()
			br.Kind = KindOf(err).String()
		default:
			br.Data = HexBytes(data)
			if br.Role == RoleData {
				if v, derr := Decode(data); derr == nil {
					br.Role = RoleValue
					br.Value = &v
				}
			}
		}
		sr.Blocks = append(sr.Blocks, br)
	}
	sr.to(StateDone)
	return sr, nil
}
