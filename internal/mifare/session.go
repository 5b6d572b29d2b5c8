package mifare

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/SimplyPrint/classic-agent/internal/logging"
	"github.com/skythen/apdu"
)

// Transceiver sends one command frame and returns the response frame, including
// the trailing SW1 SW2 status bytes. Calls are synchronous; any error means the
// card or reader is gone. *scard.Card satisfies it.
type Transceiver interface {
	Transmit(cmd []byte) ([]byte, error)
}

// AuthContext is the (sector, key type, key) currently authenticated on the card.
// Only the context returned by the most recent successful Authenticate is live.
type AuthContext struct {
	Sector  int
	KeyType KeyType
	Key     [KeySize]byte
	gen     uint64
}

func (c AuthContext) String() string {
	return fmt.Sprintf("sector %d key %s", c.Sector, c.KeyType)
}

// Session is one card session over a Transceiver. The hardware has no notion of
// interleaved transactions, so every operation holds the session lock for its whole
// duration and at most one AuthContext is live.
type Session struct {
	mu     sync.Mutex
	tx     Transceiver
	card   Card
	layout Layout
	slot   byte

	live   *AuthContext
	gen    uint64
	loaded *[KeySize]byte // key currently held in the reader's volatile slot
}

// Option configures a Session.
type Option func(*Session)

// WithKeySlot selects the reader key slot used for load key/authenticate (default 0).
func WithKeySlot(slot byte) Option {
	return func(s *Session) { s.slot = slot }
}

// NewSession wraps tx for a detected card.
func NewSession(tx Transceiver, card Card, opts ...Option) *Session {
	s := &Session{
		tx:     tx,
		card:   card,
		layout: NewLayout(card.Type),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Card returns the card the session was opened for.
func (s *Session) Card() Card { return s.card }

// Layout returns the addressing layout of the card.
func (s *Session) Layout() Layout { return s.layout }

// Current returns the live authentication context, if any.
func (s *Session) Current() (AuthContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live == nil {
		return AuthContext{}, false
	}
	return *s.live, true
}

// Invalidate drops the live context, e.g. after the caller reselected the card.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = nil
}

// ReadUID reads the card UID through the session.
func (s *Session) ReadUID() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readUID(s.exchange)
}

// ReadUID reads the UID of the card in front of tx (FF CA 00 00 00).
func ReadUID(tx Transceiver) ([]byte, error) {
	return readUID(func(op Op, block int, c apdu.Capdu, wantLen int) ([]byte, error) {
		return exchange(tx, op, block, c, wantLen)
	})
}

type exchangeFunc func(op Op, block int, c apdu.Capdu, wantLen int) ([]byte, error)

func readUID(x exchangeFunc) ([]byte, error) {
	uid, err := x(OpGetUID, -1, GetUIDCommand(), -1)
	if err != nil {
		return nil, err
	}
	if len(uid) < 4 || len(uid) > 10 {
		return nil, &Error{
			Kind:  KindMalformedResponse,
			Op:    string(OpGetUID),
			Block: -1,
			Msg:   fmt.Sprintf("UID length %d outside 4..10", len(uid)),
		}
	}
	return uid, nil
}

// exchange transmits one command and classifies the response.
func exchange(tx Transceiver, op Op, block int, c apdu.Capdu, wantLen int) ([]byte, error) {
	raw, err := tx.Transmit(c.Bytes())
	if err != nil {
		return nil, lost(op, block, err)
	}
	r, err := splitResponse(op, block, raw)
	if err != nil {
		logging.Warn(logging.CatCard, "Malformed response", map[string]any{
			"op":       string(op),
			"block":    block,
			"response": hex.EncodeToString(raw),
		})
		return nil, err
	}
	if err := Classify(op, block, r, wantLen); err != nil {
		if KindOf(err) == KindMalformedResponse {
			logging.Warn(logging.CatCard, "Unexpected response", map[string]any{
				"op":    string(op),
				"block": block,
				"sw":    fmt.Sprintf("%02X%02X", r.SW1, r.SW2),
				"len":   len(r.Data),
			})
		}
		return nil, err
	}
	return r.Data, nil
}

// exchange is the locked-session variant: a lost transceiver also clears all
// authentication and key slot state. Callers hold s.mu.
func (s *Session) exchange(op Op, block int, c apdu.Capdu, wantLen int) ([]byte, error) {
	data, err := exchange(s.tx, op, block, c, wantLen)
	if err != nil && IsFatal(err) {
		s.live = nil
		s.loaded = nil
		logging.Warn(logging.CatCard, "Transceiver lost", map[string]any{
			"op":    string(op),
			"block": block,
			"error": err.Error(),
		})
	}
	return data, err
}
