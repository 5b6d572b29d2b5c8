package mifare

import (
	"errors"

	"github.com/SimplyPrint/classic-agent/internal/logging"
)

// Authenticate tries the candidates of keys in order against sector and returns the
// context of the first that succeeds. Every attempt invalidates the previous context,
// because a failed authentication resets the card's crypto state.
//
// If all candidates fail the error is an *AuthFailure (errors.Is ErrAuthExhausted).
// A lost transceiver aborts the search immediately.
func (s *Session) Authenticate(sector int, keys *KeyStore) (AuthContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actx, _, err := s.authenticate(sector, keys)
	return actx, err
}

// AuthenticateKey authenticates with a single known key.
func (s *Session) AuthenticateKey(sector int, key Key) (AuthContext, error) {
	return s.Authenticate(sector, NewKeyStore(key))
}

// authenticate is Authenticate without locking; it also reports the attempt count.
func (s *Session) authenticate(sector int, keys *KeyStore) (AuthContext, int, error) {
	if err := s.layout.CheckSector(OpAuthenticate, sector); err != nil {
		return AuthContext{}, 0, err
	}
	block := s.layout.TrailerBlock(sector)

	attempts := 0
	for _, k := range keys.Keys() {
		if err := s.loadKey(k.Value); err != nil {
			return AuthContext{}, attempts, err
		}

		s.live = nil
		attempts++
		_, err := s.exchange(OpAuthenticate, block, AuthenticateCommand(block, k.Type, s.slot), -1)
		if err == nil {
			s.gen++
			actx := AuthContext{Sector: sector, KeyType: k.Type, Key: k.Value, gen: s.gen}
			s.live = &actx
			logging.Debug(logging.CatAuth, "Sector authenticated", map[string]any{
				"sector":   sector,
				"keyType":  k.Type.String(),
				"attempts": attempts,
			})
			return actx, attempts, nil
		}
		if !errors.Is(err, ErrAuthDenied) {
			return AuthContext{}, attempts, err
		}
	}

	logging.Debug(logging.CatAuth, "No key accepted", map[string]any{
		"sector":   sector,
		"attempts": attempts,
	})
	return AuthContext{}, attempts, &AuthFailure{Sector: sector, Attempts: attempts}
}

// loadKey puts value into the reader slot unless it is already there.
// A rejected load key is a reader fault, reported as MalformedResponse.
func (s *Session) loadKey(value [KeySize]byte) error {
	if s.loaded != nil && *s.loaded == value {
		return nil
	}
	s.loaded = nil
	if _, err := s.exchange(OpLoadKey, -1, LoadKeyCommand(s.slot, value), -1); err != nil {
		return err
	}
	v := value
	s.loaded = &v
	return nil
}
