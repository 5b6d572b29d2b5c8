package mifare

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// KeySize is the length of a MIFARE Classic sector key.
const KeySize = 6

// KeyType selects Key A or Key B; the values are the authenticate command codes.
type KeyType byte

const (
	KeyA KeyType = 0x60
	KeyB KeyType = 0x61
)

func (t KeyType) String() string {
	switch t {
	case KeyA:
		return "A"
	case KeyB:
		return "B"
	default:
		return fmt.Sprintf("KeyType(0x%02X)", byte(t))
	}
}

// Other returns the opposite key type.
func (t KeyType) Other() KeyType {
	if t == KeyB {
		return KeyA
	}
	return KeyB
}

// MarshalText encodes the type as "A" or "B".
func (t KeyType) MarshalText() ([]byte, error) {
	if t != KeyA && t != KeyB {
		return nil, fmt.Errorf("invalid key type 0x%02X", byte(t))
	}
	return []byte(t.String()), nil
}

func (t *KeyType) UnmarshalText(b []byte) error {
	kt, err := ParseKeyType(string(b))
	if err != nil {
		return err
	}
	*t = kt
	return nil
}

// ParseKeyType accepts "A"/"B" in either case.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return KeyA, nil
	case "B":
		return KeyB, nil
	default:
		return 0, fmt.Errorf("invalid key type %q (must be A or B)", s)
	}
}

// Key is one candidate: a 6-byte value tagged with the type to authenticate as.
type Key struct {
	Type  KeyType
	Value [KeySize]byte
}

func (k Key) String() string {
	return k.Type.String() + ":" + strings.ToUpper(hex.EncodeToString(k.Value[:]))
}

// ParseKeyValue parses 12 hex characters into a key value.
func ParseKeyValue(s string) ([KeySize]byte, error) {
	var v [KeySize]byte
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != KeySize {
		return v, fmt.Errorf("invalid key %q (must be 12 hex characters)", s)
	}
	copy(v[:], b)
	return v, nil
}

// Well known transport and vendor keys, in trial order.
var (
	KeyFactory  = [KeySize]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	KeyMAD      = [KeySize]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}
	KeyNFCForum = [KeySize]byte{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}
	KeyZero     = [KeySize]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	KeyHIDB     = [KeySize]byte{0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5}
)

// DefaultKeyValues returns the factory key catalogue.
func DefaultKeyValues() [][KeySize]byte {
	return [][KeySize]byte{KeyFactory, KeyMAD, KeyNFCForum, KeyZero, KeyHIDB}
}

// KeyStore is an ordered, duplicate-free set of candidate keys. Order is trial
// precedence: earlier keys are tried first.
type KeyStore struct {
	keys []Key
	seen map[Key]struct{}
}

// NewKeyStore returns a store holding keys in the given order.
func NewKeyStore(keys ...Key) *KeyStore {
	ks := &KeyStore{seen: make(map[Key]struct{})}
	for _, k := range keys {
		ks.Add(k)
	}
	return ks
}

// Add appends k unless an identical candidate is already present.
// Returns false for duplicates.
func (ks *KeyStore) Add(k Key) bool {
	if ks.seen == nil {
		ks.seen = make(map[Key]struct{})
	}
	if _, dup := ks.seen[k]; dup {
		return false
	}
	ks.seen[k] = struct{}{}
	ks.keys = append(ks.keys, k)
	return true
}

// AddValue appends value once per type, in the order given.
func (ks *KeyStore) AddValue(value [KeySize]byte, types ...KeyType) {
	for _, t := range types {
		ks.Add(Key{Type: t, Value: value})
	}
}

// Len returns the number of candidates.
func (ks *KeyStore) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.keys)
}

// Keys returns a copy of the candidates in trial order.
func (ks *KeyStore) Keys() []Key {
	if ks == nil {
		return nil
	}
	out := make([]Key, len(ks.keys))
	copy(out, ks.keys)
	return out
}

// TypeOrder returns the trial order for untyped key values given a preferred type.
func TypeOrder(prefer KeyType) []KeyType {
	if prefer == KeyB {
		return []KeyType{KeyB, KeyA}
	}
	return []KeyType{KeyA, KeyB}
}

// DefaultKeyStore expands the factory catalogue with A tried before B.
func DefaultKeyStore() *KeyStore {
	ks := NewKeyStore()
	for _, v := range DefaultKeyValues() {
		ks.AddValue(v, TypeOrder(KeyA)...)
	}
	return ks
}
