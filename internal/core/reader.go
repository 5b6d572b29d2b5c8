package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SimplyPrint/classic-agent/internal/logging"
)

// Reader is a PC/SC reader as exposed by the API.
type Reader struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	// Contactless is a name-based guess: SAM and contact slots cannot hold a MIFARE card.
	Contactless bool `json:"contactless"`
}

func isContactless(name string) bool {
	n := strings.ToUpper(name)
	switch {
	case strings.Contains(n, "SAM"):
		return false
	case strings.Contains(n, "PICC"):
		return true
	case strings.Contains(n, "ICC INTERFACE"):
		return false
	}
	return true
}

// ListReaders returns the readers currently attached, or an empty list.
func (s *Service) ListReaders() []Reader {
	names, err := s.readerNames()
	if err != nil {
		logging.Warn(logging.CatReader, "Failed to list readers", map[string]any{"error": err.Error()})
		return []Reader{}
	}
	readers := make([]Reader, 0, len(names))
	for i, name := range names {
		readers = append(readers, Reader{Index: i, Name: name, Contactless: isContactless(name)})
	}
	return readers
}

func (s *Service) readerNames() ([]string, error) {
	ctx, err := s.factory.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish context: %w", err)
	}
	defer ctx.Release()
	return ctx.ListReaders()
}

// ErrNoReader is returned when a reader index or name does not resolve.
var ErrNoReader = errors.New("reader not found")

// ReaderByIndex resolves an API reader index to its name.
func (s *Service) ReaderByIndex(index int) (string, error) {
	readers := s.ListReaders()
	if index < 0 || index >= len(readers) {
		return "", fmt.Errorf("%w: index %d (have %d)", ErrNoReader, index, len(readers))
	}
	return readers[index].Name, nil
}
