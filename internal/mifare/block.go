package mifare

import "github.com/SimplyPrint/classic-agent/internal/logging"

// ReadBlock reads one 16-byte block of the authenticated sector.
// Trailer reads return whatever the access conditions expose; Key A always reads as zeros.
func (s *Session) ReadBlock(actx AuthContext, block int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readBlock(actx, block)
}

func (s *Session) readBlock(actx AuthContext, block int) ([]byte, error) {
	if err := s.checkContext(OpRead, actx, block); err != nil {
		return nil, err
	}
	return s.exchange(OpRead, block, ReadBlockCommand(block), BlockSize)
}

// WriteBlock writes 16 bytes to a data block of the authenticated sector.
// Block 0 and sector trailers are refused before anything is sent; use WriteTrailer
// for trailers.
func (s *Session) WriteBlock(actx AuthContext, block int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDataBlock(OpWrite, block); err != nil {
		return err
	}
	return s.writeBlock(actx, block, data)
}

func (s *Session) writeBlock(actx AuthContext, block int, data []byte) error {
	if len(data) != BlockSize {
		return precondition(string(OpWrite), block, "data must be %d bytes, got %d", BlockSize, len(data))
	}
	if err := s.checkContext(OpWrite, actx, block); err != nil {
		return err
	}
	if _, err := s.exchange(OpWrite, block, WriteBlockCommand(block, data), -1); err != nil {
		return err
	}
	logging.Debug(logging.CatCard, "Block written", map[string]any{"block": block})
	return nil
}

// checkDataBlock refuses the manufacturer block and trailers for data operations.
func (s *Session) checkDataBlock(op Op, block int) error {
	return s.layout.CheckWritable(op, block)
}

// checkContext verifies that actx is the live context and that block belongs to its sector.
func (s *Session) checkContext(op Op, actx AuthContext, block int) error {
	if err := s.layout.CheckBlock(op, block); err != nil {
		return err
	}
	if s.live == nil || *s.live != actx {
		return precondition(string(op), block, "authentication context for sector %d is not live", actx.Sector)
	}
	if sector := s.layout.SectorOf(block); sector != actx.Sector {
		return precondition(string(op), block, "block belongs to sector %d, authenticated sector is %d", sector, actx.Sector)
	}
	return nil
}
