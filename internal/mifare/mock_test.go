package mifare

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/SimplyPrint/classic-agent/internal/mifare/mifaretest"
)

// scriptedTransceiver answers commands from a hex-keyed response map and records
// every command it receives.
type scriptedTransceiver struct {
	responses map[string][]byte
	fallback  []byte
	err       error
	sent      [][]byte
}

func newScripted() *scriptedTransceiver {
	return &scriptedTransceiver{
		responses: make(map[string][]byte),
		fallback:  []byte{0x6A, 0x81},
	}
}

func (s *scriptedTransceiver) On(cmdHex string, resp []byte) *scriptedTransceiver {
	s.responses[strings.ToUpper(cmdHex)] = resp
	return s
}

func (s *scriptedTransceiver) Transmit(cmd []byte) ([]byte, error) {
	s.sent = append(s.sent, append([]byte(nil), cmd...))
	if s.err != nil {
		return nil, s.err
	}
	if resp, ok := s.responses[strings.ToUpper(hex.EncodeToString(cmd))]; ok {
		return resp, nil
	}
	return s.fallback, nil
}

var errUnplugged = errors.New("reader unplugged")

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func card1K(sim *mifaretest.Card) Card {
	return Card{UID: sim.UID, ATR: sim.ATR, Type: CardTypeFromATR(sim.ATR)}
}

func newSimSession(t *testing.T, sim *mifaretest.Card) *Session {
	t.Helper()
	card := card1K(sim)
	if card.Type == CardUnknown {
		t.Fatalf("simulator ATR %X not recognised", sim.ATR)
	}
	return NewSession(sim, card)
}

func keyStore(keys ...Key) *KeyStore { return NewKeyStore(keys...) }

func factoryA() Key { return Key{Type: KeyA, Value: KeyFactory} }
