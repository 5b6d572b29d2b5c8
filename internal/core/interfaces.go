package core

import (
	"context"

	"github.com/SimplyPrint/classic-agent/internal/mifare"
)

// SmartCardContext represents a PC/SC context for listing readers
type SmartCardContext interface {
	ListReaders() ([]string, error)
	Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error)
	Release() error
}

// SmartCard represents a connected smart card for transmitting commands
type SmartCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (SmartCardStatus, error)
	Disconnect(disposition uint32) error
}

// SmartCardStatus represents the status of a smart card
type SmartCardStatus struct {
	Reader         string
	State          uint32
	ActiveProtocol uint32
	Atr            []byte
}

// ContextFactory creates SmartCardContext instances
// This allows for dependency injection and mocking in tests
type ContextFactory interface {
	EstablishContext() (SmartCardContext, error)
}

// CardOperations is what the API layer needs from the card service.
// Used for dependency injection and mocking in tests.
type CardOperations interface {
	ListReaders() []Reader
	ReaderByIndex(index int) (string, error)
	GetCard(readerName string) (*Card, error)
	Dump(ctx context.Context, readerName string, onSector func(mifare.SectorReport)) (*mifare.DumpReport, error)
	ReadBlock(readerName string, block int, key *mifare.Key) (*BlockResult, error)
	WriteBlock(readerName string, block int, data []byte, key *mifare.Key) error
	ReadValue(readerName string, block int, key *mifare.Key) (*ValueResult, error)
	UpdateValue(readerName string, block int, op ValueOp, amount int32, key *mifare.Key) (*ValueResult, error)
	ChangeKeys(readerName string, sector int, auth *mifare.Key, keyA, keyB [mifare.KeySize]byte) error
	Keys() *KeyRing
}
