package core

import (
	"sync"

	"github.com/SimplyPrint/classic-agent/internal/mifare"
)

// KeyRing holds the candidate keys shared by every reader: the configured list
// followed by keys learned at runtime. It is safe for concurrent use.
type KeyRing struct {
	mu      sync.RWMutex
	prefer  mifare.KeyType
	base    []mifare.Key
	learned *mifare.KeyStore
	onLearn func(value [mifare.KeySize]byte, types []mifare.KeyType)
}

// KeyRingInfo summarises a KeyRing for the API. Key bytes are never exposed.
type KeyRingInfo struct {
	Configured int    `json:"configured"`
	Learned    int    `json:"learned"`
	Prefer     string `json:"prefer"`
}

// NewKeyRing returns a ring seeded with base. A nil base means the factory catalogue.
func NewKeyRing(base *mifare.KeyStore, prefer mifare.KeyType) *KeyRing {
	if base == nil {
		base = mifare.DefaultKeyStore()
	}
	if prefer != mifare.KeyB {
		prefer = mifare.KeyA
	}
	return &KeyRing{
		prefer:  prefer,
		base:    base.Keys(),
		learned: mifare.NewKeyStore(),
	}
}

// OnLearn registers fn to be called for every key Learn adds. Restore does not call it.
func (r *KeyRing) OnLearn(fn func(value [mifare.KeySize]byte, types []mifare.KeyType)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLearn = fn
}

// Learn appends value for the given types, or both types in preferred order when
// none are given. Returns false if every candidate was already known.
func (r *KeyRing) Learn(value [mifare.KeySize]byte, types ...mifare.KeyType) bool {
	r.mu.Lock()
	added := r.add(value, types)
	fn := r.onLearn
	r.mu.Unlock()

	if len(added) > 0 && fn != nil {
		fn(value, added)
	}
	return len(added) > 0
}

// Restore appends previously learned keys without notifying OnLearn.
func (r *KeyRing) Restore(value [mifare.KeySize]byte, types ...mifare.KeyType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(value, types)
}

// add appends candidates not already present in base or learned. Callers hold mu.
func (r *KeyRing) add(value [mifare.KeySize]byte, types []mifare.KeyType) []mifare.KeyType {
	if len(types) == 0 {
		types = mifare.TypeOrder(r.prefer)
	}
	var added []mifare.KeyType
	for _, t := range types {
		k := mifare.Key{Type: t, Value: value}
		if r.inBase(k) {
			continue
		}
		if r.learned.Add(k) {
			added = append(added, t)
		}
	}
	return added
}

func (r *KeyRing) inBase(k mifare.Key) bool {
	for _, b := range r.base {
		if b == k {
			return true
		}
	}
	return false
}

// Store returns a snapshot of every candidate in trial order.
func (r *KeyRing) Store() *mifare.KeyStore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ks := mifare.NewKeyStore(r.base...)
	for _, k := range r.learned.Keys() {
		ks.Add(k)
	}
	return ks
}

// Prefer returns the type tried first for untyped keys.
func (r *KeyRing) Prefer() mifare.KeyType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefer
}

func (r *KeyRing) Info() KeyRingInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return KeyRingInfo{
		Configured: len(r.base),
		Learned:    r.learned.Len(),
		Prefer:     r.prefer.String(),
	}
}
