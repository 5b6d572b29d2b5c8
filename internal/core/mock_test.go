package core

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/SimplyPrint/classic-agent/internal/mifare/mifaretest"
	"github.com/ebfe/scard"
)

// MockContextFactory hands out MockSmartCardContext instances over a shared set of readers.
type MockContextFactory struct {
	ctx *MockSmartCardContext
	err error
}

func (f *MockContextFactory) EstablishContext() (SmartCardContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ctx, nil
}

// MockSmartCardContext implements SmartCardContext for testing
type MockSmartCardContext struct {
	mu          sync.Mutex
	readers     []string
	cards       map[string]*mifaretest.Card
	shouldError bool
	errorMsg    string

	connects    int
	disconnects int
}

// NewMockContext creates a new mock context with predefined readers
func NewMockContext() *MockSmartCardContext {
	return &MockSmartCardContext{
		readers: []string{
			"ACS ACR122U PICC Interface",
			"ACS ACR1252 1S CL Reader PICC 0",
			"ACS ACR1252 1S CL Reader SAM 0",
		},
		cards: make(map[string]*mifaretest.Card),
	}
}

// WithReaders sets the readers for the mock context
func (m *MockSmartCardContext) WithReaders(readers []string) *MockSmartCardContext {
	m.readers = readers
	return m
}

// WithCard places a simulated card on a specific reader
func (m *MockSmartCardContext) WithCard(readerName string, card *mifaretest.Card) *MockSmartCardContext {
	m.cards[readerName] = card
	return m
}

// WithError makes the context return errors
func (m *MockSmartCardContext) WithError(msg string) *MockSmartCardContext {
	m.shouldError = true
	m.errorMsg = msg
	return m
}

func (m *MockSmartCardContext) Factory() *MockContextFactory {
	return &MockContextFactory{ctx: m}
}

func (m *MockSmartCardContext) ListReaders() ([]string, error) {
	if m.shouldError {
		return nil, errors.New(m.errorMsg)
	}
	return m.readers, nil
}

func (m *MockSmartCardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	if m.shouldError {
		return nil, errors.New(m.errorMsg)
	}
	card, ok := m.cards[reader]
	if !ok {
		return nil, scard.ErrNoSmartcard
	}
	m.mu.Lock()
	m.connects++
	m.mu.Unlock()
	return &MockSmartCard{sim: card, reader: reader, ctx: m}, nil
}

func (m *MockSmartCardContext) Release() error {
	return nil
}

func (m *MockSmartCardContext) Counts() (connects, disconnects int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, m.disconnects
}

// MockSmartCard is one connection to a simulated card.
type MockSmartCard struct {
	mu           sync.Mutex
	sim          *mifaretest.Card
	reader       string
	ctx          *MockSmartCardContext
	disconnected bool
}

func (m *MockSmartCard) Transmit(cmd []byte) ([]byte, error) {
	m.mu.Lock()
	disconnected := m.disconnected
	m.mu.Unlock()
	if disconnected {
		return nil, errors.New("card disconnected")
	}
	return m.sim.Transmit(cmd)
}

func (m *MockSmartCard) Status() (SmartCardStatus, error) {
	return SmartCardStatus{
		Reader:         m.reader,
		State:          0,
		ActiveProtocol: uint32(scard.ProtocolT1),
		Atr:            append([]byte(nil), m.sim.ATR...),
	}, nil
}

func (m *MockSmartCard) Disconnect(disposition uint32) error {
	m.mu.Lock()
	m.disconnected = true
	m.mu.Unlock()

	m.ctx.mu.Lock()
	m.ctx.disconnects++
	m.ctx.mu.Unlock()
	return nil
}

// blockingCard never answers until release is closed.
type blockingCard struct {
	release chan struct{}
	busy    atomic.Bool
}

func (b *blockingCard) Transmit(cmd []byte) ([]byte, error) {
	b.busy.Store(true)
	defer b.busy.Store(false)
	<-b.release
	return []byte{0x90, 0x00}, nil
}

func (b *blockingCard) Status() (SmartCardStatus, error) { return SmartCardStatus{}, nil }
func (b *blockingCard) Disconnect(uint32) error { return nil }

// txFunc adapts a function to mifare.Transceiver and SmartCard.
type txFunc func(cmd []byte) ([]byte, error)

func (f txFunc) Transmit(cmd []byte) ([]byte, error) { return f(cmd) }
func (f txFunc) Status() (SmartCardStatus, error) { return SmartCardStatus{}, nil }
func (f txFunc) Disconnect(uint32) error { return nil }
