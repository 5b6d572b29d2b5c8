package mifare

import (
	"fmt"

	"github.com/SimplyPrint/classic-agent/internal/logging"
)

// ReadValue reads block and decodes it as a value block.
func (s *Session) ReadValue(actx AuthContext, block int) (ValueBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readValue(actx, block)
}

func (s *Session) readValue(actx AuthContext, block int) (ValueBlock, error) {
	if err := s.checkDataBlock(OpRead, block); err != nil {
		return ValueBlock{}, err
	}
	data, err := s.readBlock(actx, block)
	if err != nil {
		return ValueBlock{}, err
	}
	v, err := Decode(data)
	if err != nil {
		return ValueBlock{}, fmt.Errorf("block %d: %w", block, err)
	}
	return v, nil
}

// InitValue formats block as a value block holding value, with the block number as address.
func (s *Session) InitValue(actx AuthContext, block int, value int32) (ValueBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDataBlock(OpWrite, block); err != nil {
		return ValueBlock{}, err
	}
	v := ValueBlock{Value: value, Addr: byte(block)}
	if err := s.writeBlock(actx, block, Encode(v)); err != nil {
		return ValueBlock{}, err
	}
	return v, nil
}

// Increment adds n (n >= 0) to the value block.
func (s *Session) Increment(actx AuthContext, block int, n int32) (ValueBlock, error) {
	if n < 0 {
		return ValueBlock{}, precondition(string(OpValue), block, "increment amount %d is negative", n)
	}
	return s.AdjustValue(actx, block, n)
}

// Decrement subtracts n (n >= 0) from the value block.
func (s *Session) Decrement(actx AuthContext, block int, n int32) (ValueBlock, error) {
	if n < 0 {
		return ValueBlock{}, precondition(string(OpValue), block, "decrement amount %d is negative", n)
	}
	return s.AdjustValue(actx, block, -n)
}

// AdjustValue applies a signed delta to a value block. The current value is read and
// range checked first, so an overflowing delta is rejected without touching the card.
// The result is read back and compared with the expected value.
func (s *Session) AdjustValue(actx AuthContext, block int, delta int32) (ValueBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readValue(actx, block)
	if err != nil {
		return ValueBlock{}, err
	}
	want, err := ApplyDelta(current, delta)
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.Block = block
		}
		return current, err
	}
	if delta == 0 {
		return current, nil
	}

	op, magnitude := byte(valueOpIncrement), uint32(delta)
	if delta < 0 {
		op, magnitude = valueOpDecrement, uint32(-int64(delta))
	}
	if _, err := s.exchange(OpValue, block, ValueCommand(block, op, magnitude), -1); err != nil {
		return ValueBlock{}, err
	}

	got, err := s.readValue(actx, block)
	if err != nil {
		return ValueBlock{}, err
	}
	if got.Value != want.Value {
		return got, &Error{
			Kind:  KindMalformedResponse,
			Op:    string(OpValue),
			Block: block,
			Msg:   fmt.Sprintf("value after operation is %d, expected %d", got.Value, want.Value),
		}
	}
	logging.Debug(logging.CatCard, "Value block updated", map[string]any{
		"block": block,
		"delta": delta,
		"value": got.Value,
	})
	return got, nil
}

// RestoreValue copies the value block src to dst within the authenticated sector.
func (s *Session) RestoreValue(actx AuthContext, src, dst int) (ValueBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDataBlock(OpRestore, dst); err != nil {
		return ValueBlock{}, err
	}
	if err := s.checkContext(OpRestore, actx, dst); err != nil {
		return ValueBlock{}, err
	}
	v, err := s.readValue(actx, src)
	if err != nil {
		return ValueBlock{}, err
	}
	if _, err := s.exchange(OpRestore, src, RestoreValueCommand(src, dst), -1); err != nil {
		return ValueBlock{}, err
	}
	return v, nil
}
