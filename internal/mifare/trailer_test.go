package mifare

import (
	"errors"
	"testing"

	"github.com/SimplyPrint/classic-agent/internal/mifare/mifaretest"
)

func TestAccessBitsTransport(t *testing.T) {
	b, err := EncodeAccessBits(TransportAccess)
	if err != nil {
		t.Fatal(err)
	}
	if b != [3]byte{0xFF, 0x07, 0x80} {
		t.Errorf("EncodeAccessBits(transport) = %X, want FF0780", b)
	}
	c, err := DecodeAccessBits(b)
	if err != nil || c != TransportAccess {
		t.Errorf("DecodeAccessBits() = %v, %v", c, err)
	}
}

func TestAccessBitsRoundTrip(t *testing.T) {
	for cond := byte(0); cond < 8; cond++ {
		in := AccessConditions{cond, 7 - cond, cond, (cond + 3) % 8}
		b, err := EncodeAccessBits(in)
		if err != nil {
			t.Fatalf("EncodeAccessBits(%v) error = %v", in, err)
		}
		out, err := DecodeAccessBits(b)
		if err != nil || out != in {
			t.Errorf("round trip %v -> %v, %v", in, out, err)
		}
	}
}

func TestAccessBitsValidation(t *testing.T) {
	if _, err := DecodeAccessBits([3]byte{0xFF, 0x07, 0x81}); !errors.Is(err, ErrInvalidAccessBits) {
		t.Errorf("corrupt access bits accepted: %v", err)
	}
	if _, err := EncodeAccessBits(AccessConditions{8, 0, 0, 0}); err == nil {
		t.Error("condition 8 should be rejected")
	}
}

func TestAccessGroup(t *testing.T) {
	tests := []struct{ offset, n, want int }{
		{0, 4, 0}, {2, 4, 2}, {3, 4, 3},
		{0, 16, 0}, {4, 16, 0}, {5, 16, 1}, {14, 16, 2}, {15, 16, 3},
	}
	for _, tt := range tests {
		if got := AccessGroup(tt.offset, tt.n); got != tt.want {
			t.Errorf("AccessGroup(%d, %d) = %d, want %d", tt.offset, tt.n, got, tt.want)
		}
	}
}

func TestChangeKeys(t *testing.T) {
	sim := mifaretest.New1K()
	s := newSimSession(t, sim)
	actx := authenticated(t, s, 3)

	if err := s.ChangeKeys(actx, customKey, KeyMAD); err != nil {
		t.Fatalf("ChangeKeys() error = %v", err)
	}
	raw := sim.Block(15)
	tr, err := ParseTrailer(raw)
	if err != nil {
		t.Fatalf("ParseTrailer() error = %v", err)
	}
	if tr.KeyA != customKey || tr.KeyB != KeyMAD {
		t.Errorf("keys = %X / %X", tr.KeyA, tr.KeyB)
	}
	if tr.Access != TransportAccess || tr.UserByte != DefaultUserByte {
		t.Errorf("access bits not preserved: %+v", tr)
	}

	if _, err := s.AuthenticateKey(3, Key{Type: KeyA, Value: customKey}); err != nil {
		t.Errorf("new key A should authenticate: %v", err)
	}
}

func TestWriteTrailerRejectsBadConditions(t *testing.T) {
	sim := mifaretest.New1K()
	s := newSimSession(t, sim)
	actx := authenticated(t, s, 1)
	sim.ResetCounters()

	err := s.WriteTrailer(actx, Trailer{Access: AccessConditions{9, 0, 0, 1}})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if sim.Transmits() != 0 {
		t.Errorf("sent %d commands", sim.Transmits())
	}
}
