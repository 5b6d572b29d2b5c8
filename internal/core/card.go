package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/SimplyPrint/classic-agent/internal/logging"
	"github.com/SimplyPrint/classic-agent/internal/mifare"
	"github.com/ebfe/scard"
)

var (
	// ErrNoCard is returned when the reader has no card in its field.
	ErrNoCard = errors.New("no card on reader")
	// ErrUnsupportedCard is returned for cards that are not MIFARE Classic.
	ErrUnsupportedCard = errors.New("card is not MIFARE Classic")
)

// Card represents a detected MIFARE Classic card.
type Card struct {
	UID         string `json:"uid"`
	ATR         string `json:"atr,omitempty"`
	Type        string `json:"type"`                  // "MIFARE Classic 1K", "MIFARE Classic 4K", "MIFARE Mini"
	Protocol    string `json:"protocol,omitempty"`    // Short protocol: "NFC-A"
	ProtocolISO string `json:"protocolISO,omitempty"` // Full ISO protocol: "ISO 14443-3A"
	Size        int    `json:"size"`                  // Memory size in bytes
	Sectors     int    `json:"sectors"`
	Blocks      int    `json:"blocks"`
}

func cardInfo(c mifare.Card) *Card {
	return &Card{
		UID:         strings.ToUpper(hex.EncodeToString(c.UID)),
		ATR:         strings.ToUpper(hex.EncodeToString(c.ATR)),
		Type:        c.Type.String(),
		Protocol:    "NFC-A",
		ProtocolISO: "ISO 14443-3A",
		Size:        c.Type.Size(),
		Sectors:     c.Type.SectorCount(),
		Blocks:      c.Type.BlockCount(),
	}
}

// BlockResult is a single block read.
type BlockResult struct {
	Block   int                `json:"block"`
	Sector  int                `json:"sector"`
	Data    string             `json:"data"` // 32 hex characters
	Role    string             `json:"role"`
	Value   *mifare.ValueBlock `json:"value,omitempty"`
	KeyType string             `json:"keyType"`
}

// ValueResult is the state of a value block after a read or an update.
type ValueResult struct {
	Block int   `json:"block"`
	Value int32 `json:"value"`
	Addr  byte  `json:"addr"`
}

// ValueOp is a value block update.
type ValueOp string

const (
	ValueInit      ValueOp = "init"
	ValueIncrement ValueOp = "increment"
	ValueDecrement ValueOp = "decrement"
)

// ParseValueOp accepts "init", "increment" or "decrement".
func ParseValueOp(s string) (ValueOp, error) {
	switch op := ValueOp(strings.ToLower(strings.TrimSpace(s))); op {
	case ValueInit, ValueIncrement, ValueDecrement:
		return op, nil
	default:
		return "", fmt.Errorf("%w: unknown value op %q (must be init, increment or decrement)", mifare.ErrPrecondition, s)
	}
}

const DefaultTransmitTimeout = 3 * time.Second

// Service runs card operations against PC/SC readers. Each operation connects,
// detects the card, runs one mifare.Session and disconnects. Operations on the
// same reader are serialized.
type Service struct {
	factory ContextFactory
	keys    *KeyRing
	timeout time.Duration
	slot    byte

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type ServiceOption func(*Service)

// WithTransmitTimeout bounds every command sent to the reader. Zero disables the bound.
func WithTransmitTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// WithReaderKeySlot selects the reader key slot used for LOAD KEY.
func WithReaderKeySlot(slot byte) ServiceOption {
	return func(s *Service) { s.slot = slot }
}

func WithKeyRing(r *KeyRing) ServiceOption {
	return func(s *Service) { s.keys = r }
}

// NewService returns a service using factory. A nil factory means real PC/SC.
func NewService(factory ContextFactory, opts ...ServiceOption) *Service {
	if factory == nil {
		factory = DefaultContextFactory{}
	}
	s := &Service{
		factory: factory,
		timeout: DefaultTransmitTimeout,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.keys == nil {
		s.keys = NewKeyRing(nil, mifare.KeyA)
	}
	return s
}

// Keys returns the shared candidate key ring.
func (s *Service) Keys() *KeyRing { return s.keys }

func (s *Service) readerLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// withSession connects to readerName, detects the card and runs fn with a fresh session.
func (s *Service) withSession(readerName string, fn func(*mifare.Session) error) error {
	lock := s.readerLock(readerName)
	lock.Lock()
	defer lock.Unlock()

	ctx, err := s.factory.EstablishContext()
	if err != nil {
		return fmt.Errorf("failed to establish context: %w", err)
	}

	card, err := ctx.Connect(readerName, uint32(scard.ShareShared), uint32(scard.ProtocolAny))
	if err != nil {
		ctx.Release()
		if isNoCard(err) {
			return fmt.Errorf("%w: %s", ErrNoCard, readerName)
		}
		return fmt.Errorf("failed to connect to reader: %w", err)
	}

	tx := newTimeoutTransceiver(card, s.timeout)
	defer tx.close(func() {
		card.Disconnect(uint32(scard.LeaveCard))
		ctx.Release()
	})

	status, err := card.Status()
	if err != nil {
		if isNoCard(err) {
			return fmt.Errorf("%w: %s", ErrNoCard, readerName)
		}
		return fmt.Errorf("failed to get card status: %w", err)
	}

	info, err := DetectCard(tx, status.Atr, s.keys.Store(), s.slot)
	if err != nil {
		return err
	}
	return fn(mifare.NewSession(tx, info, mifare.WithKeySlot(s.slot)))
}

// DetectCard reads the UID and determines the card type. The ATR decides when it
// names a Classic variant. ATRs outside the PC/SC storage card format are probed:
// sector 0 must open with one of keys, and sector 16 opening as well means 4K.
func DetectCard(tx mifare.Transceiver, atr []byte, keys *mifare.KeyStore, slot byte) (mifare.Card, error) {
	uid, err := mifare.ReadUID(tx)
	if err != nil {
		return mifare.Card{}, err
	}
	card := mifare.Card{UID: uid, ATR: append([]byte(nil), atr...)}

	method := "atr"
	defer func() {
		logging.Debug(logging.CatCard, "Card type detection complete", map[string]any{
			"uid":    fmt.Sprintf("%X", uid),
			"atr":    fmt.Sprintf("%X", atr),
			"type":   card.Type.String(),
			"method": method,
		})
	}()

	card.Type = mifare.CardTypeFromATR(atr)
	if card.Type != mifare.CardUnknown {
		return card, nil
	}
	if mifare.IsStorageCardATR(atr) {
		method = "atr-rejected"
		return card, fmt.Errorf("%w: ATR %X", ErrUnsupportedCard, atr)
	}

	method = "probe"
	probe := card
	probe.Type = mifare.Card1K
	if _, err := mifare.NewSession(tx, probe, mifare.WithKeySlot(slot)).Authenticate(0, keys); err != nil {
		if mifare.IsFatal(err) {
			return card, err
		}
		return card, fmt.Errorf("%w: sector 0 did not authenticate: %v", ErrUnsupportedCard, err)
	}

	probe.Type = mifare.Card4K
	if _, err := mifare.NewSession(tx, probe, mifare.WithKeySlot(slot)).Authenticate(16, keys); err != nil {
		if mifare.IsFatal(err) {
			return card, err
		}
		card.Type = mifare.Card1K
		return card, nil
	}
	card.Type = mifare.Card4K
	return card, nil
}

// candidates returns the single key when one is given, otherwise the ring.
func (s *Service) candidates(key *mifare.Key) *mifare.KeyStore {
	if key != nil {
		return mifare.NewKeyStore(*key)
	}
	return s.keys.Store()
}

// authenticateBlock opens the sector owning block.
func (s *Service) authenticateBlock(sess *mifare.Session, op mifare.Op, block int, key *mifare.Key) (mifare.AuthContext, error) {
	layout := sess.Layout()
	if err := layout.CheckBlock(op, block); err != nil {
		return mifare.AuthContext{}, err
	}
	return sess.Authenticate(layout.SectorOf(block), s.candidates(key))
}

// GetCard connects to the specified reader and returns the detected card.
func (s *Service) GetCard(readerName string) (*Card, error) {
	var result *Card
	err := s.withSession(readerName, func(sess *mifare.Session) error {
		result = cardInfo(sess.Card())
		return nil
	})
	return result, err
}

// Dump reads every sector with the ring's keys. onSector, if set, is called as
// each sector completes. A report that ended early is returned without error; its
// Truncated field says why.
func (s *Service) Dump(ctx context.Context, readerName string, onSector func(mifare.SectorReport)) (*mifare.DumpReport, error) {
	var report *mifare.DumpReport
	err := s.withSession(readerName, func(sess *mifare.Session) error {
		var opts []mifare.DumpOption
		if onSector != nil {
			opts = append(opts, mifare.WithSectorReport(onSector))
		}
		report = sess.DumpAll(ctx, s.keys.Store(), opts...)
		return nil
	})
	return report, err
}

// ReadBlock reads one block. Trailer reads return Key A as zeros.
func (s *Service) ReadBlock(readerName string, block int, key *mifare.Key) (*BlockResult, error) {
	var result *BlockResult
	err := s.withSession(readerName, func(sess *mifare.Session) error {
		actx, err := s.authenticateBlock(sess, mifare.OpRead, block, key)
		if err != nil {
			return err
		}
		data, err := sess.ReadBlock(actx, block)
		if err != nil {
			return err
		}

		result = &BlockResult{
			Block:   block,
			Sector:  actx.Sector,
			Data:    strings.ToUpper(hex.EncodeToString(data)),
			Role:    sess.Layout().StaticRole(block).String(),
			KeyType: actx.KeyType.String(),
		}
		if result.Role == mifare.RoleData.String() {
			if v, ok := mifare.ClassifyBlock(data).(mifare.ValueBlock); ok {
				result.Role = mifare.RoleValue.String()
				result.Value = &v
			}
		}

		logging.Info(logging.CatCard, "MIFARE block read", map[string]any{
			"block":   block,
			"keyType": actx.KeyType.String(),
		})
		return nil
	})
	return result, err
}

// WriteBlock writes 16 bytes to a data block. Block 0 and trailers are refused.
func (s *Service) WriteBlock(readerName string, block int, data []byte, key *mifare.Key) error {
	return s.withSession(readerName, func(sess *mifare.Session) error {
		if err := sess.Layout().CheckWritable(mifare.OpWrite, block); err != nil {
			return err
		}
		actx, err := s.authenticateBlock(sess, mifare.OpWrite, block, key)
		if err != nil {
			return err
		}
		if err := sess.WriteBlock(actx, block, data); err != nil {
			return err
		}
		logging.Info(logging.CatCard, "MIFARE block written", map[string]any{
			"block":   block,
			"keyType": actx.KeyType.String(),
		})
		return nil
	})
}

// ReadValue reads and validates a value block.
func (s *Service) ReadValue(readerName string, block int, key *mifare.Key) (*ValueResult, error) {
	var result *ValueResult
	err := s.withSession(readerName, func(sess *mifare.Session) error {
		if err := sess.Layout().CheckWritable(mifare.OpValue, block); err != nil {
			return err
		}
		actx, err := s.authenticateBlock(sess, mifare.OpValue, block, key)
		if err != nil {
			return err
		}
		v, err := sess.ReadValue(actx, block)
		if err != nil {
			return err
		}
		result = &ValueResult{Block: block, Value: v.Value, Addr: v.Addr}
		return nil
	})
	return result, err
}

// UpdateValue formats a value block or applies an increment or decrement of amount.
func (s *Service) UpdateValue(readerName string, block int, op ValueOp, amount int32, key *mifare.Key) (*ValueResult, error) {
	if _, err := ParseValueOp(string(op)); err != nil {
		return nil, err
	}
	var result *ValueResult
	err := s.withSession(readerName, func(sess *mifare.Session) error {
		if err := sess.Layout().CheckWritable(mifare.OpValue, block); err != nil {
			return err
		}
		actx, err := s.authenticateBlock(sess, mifare.OpValue, block, key)
		if err != nil {
			return err
		}

		var v mifare.ValueBlock
		switch op {
		case ValueInit:
			v, err = sess.InitValue(actx, block, amount)
		case ValueIncrement:
			v, err = sess.Increment(actx, block, amount)
		case ValueDecrement:
			v, err = sess.Decrement(actx, block, amount)
		}
		if err != nil {
			return err
		}

		logging.Info(logging.CatCard, "MIFARE value updated", map[string]any{
			"block":  block,
			"op":     string(op),
			"amount": amount,
			"value":  v.Value,
		})
		result = &ValueResult{Block: block, Value: v.Value, Addr: v.Addr}
		return nil
	})
	return result, err
}

// ChangeKeys replaces both keys of sector, keeping its access bits. The new keys are
// added to the ring so the sector stays readable.
func (s *Service) ChangeKeys(readerName string, sector int, auth *mifare.Key, keyA, keyB [mifare.KeySize]byte) error {
	err := s.withSession(readerName, func(sess *mifare.Session) error {
		if err := sess.Layout().CheckSector(mifare.OpWrite, sector); err != nil {
			return err
		}
		actx, err := sess.Authenticate(sector, s.candidates(auth))
		if err != nil {
			return err
		}
		return sess.ChangeKeys(actx, keyA, keyB)
	})
	if err != nil {
		return err
	}
	s.keys.Learn(keyA, mifare.KeyA)
	s.keys.Learn(keyB, mifare.KeyB)
	return nil
}
