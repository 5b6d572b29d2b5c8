package mifare

import (
	"errors"
	"fmt"

	"github.com/SimplyPrint/classic-agent/internal/logging"
)

// AccessConditions holds the 3-bit C1C2C3 condition of each access group of a
// sector: indexes 0-2 are the data groups, 3 is the trailer. On small sectors a
// group is one block; on 16-block sectors groups 0-2 cover five blocks each.
type AccessConditions [4]byte

// TransportAccess is the factory setting (FF 07 80): data blocks 000, trailer 001.
var TransportAccess = AccessConditions{0b000, 0b000, 0b000, 0b001}

// DefaultUserByte is the general purpose byte that follows the access bits on new cards.
const DefaultUserByte = 0x69

// ErrInvalidAccessBits is returned when the inverted copies of the access bits disagree.
var ErrInvalidAccessBits = errors.New("mifare: access bits fail inversion check")

// EncodeAccessBits packs c into trailer bytes 6..8.
func EncodeAccessBits(c AccessConditions) ([3]byte, error) {
	var c1, c2, c3 byte
	for i, cond := range c {
		if cond > 0b111 {
			return [3]byte{}, fmt.Errorf("access condition %d for group %d out of range", cond, i)
		}
		c1 |= (cond >> 2 & 1) << i
		c2 |= (cond >> 1 & 1) << i
		c3 |= (cond & 1) << i
	}
	return [3]byte{
		(^c2&0x0F)<<4 | ^c1&0x0F,
		c1<<4 | ^c3&0x0F,
		c3<<4 | c2,
	}, nil
}

// DecodeAccessBits unpacks trailer bytes 6..8 and verifies their inverted copies.
func DecodeAccessBits(b [3]byte) (AccessConditions, error) {
	c1 := b[1] >> 4
	c2 := b[2] & 0x0F
	c3 := b[2] >> 4
	if ^b[0]&0x0F != c1 || ^b[0]>>4 != c2 || ^b[1]&0x0F != c3 {
		return AccessConditions{}, ErrInvalidAccessBits
	}
	var c AccessConditions
	for i := range c {
		c[i] = (c1>>i&1)<<2 | (c2>>i&1)<<1 | c3>>i&1
	}
	return c, nil
}

// AccessGroup returns the access group of the block at offset within a sector of n blocks.
func AccessGroup(offset, n int) int {
	if offset == n-1 {
		return 3
	}
	if n == largeSectorBlocks {
		return offset / 5
	}
	return offset
}

// Trailer is a decoded sector trailer.
type Trailer struct {
	KeyA     [KeySize]byte
	Access   AccessConditions
	UserByte byte
	KeyB     [KeySize]byte
}

// ParseTrailer decodes a 16-byte sector trailer.
func ParseTrailer(data []byte) (Trailer, error) {
	if len(data) != BlockSize {
		return Trailer{}, fmt.Errorf("mifare: trailer must be %d bytes, got %d", BlockSize, len(data))
	}
	var t Trailer
	copy(t.KeyA[:], data[0:6])
	access, err := DecodeAccessBits([3]byte{data[6], data[7], data[8]})
	if err != nil {
		return Trailer{}, err
	}
	t.Access = access
	t.UserByte = data[9]
	copy(t.KeyB[:], data[10:16])
	return t, nil
}

// Bytes encodes the trailer.
func (t Trailer) Bytes() ([]byte, error) {
	ab, err := EncodeAccessBits(t.Access)
	if err != nil {
		return nil, err
	}
	b := make([]byte, BlockSize)
	copy(b[0:6], t.KeyA[:])
	copy(b[6:9], ab[:])
	b[9] = t.UserByte
	copy(b[10:16], t.KeyB[:])
	return b, nil
}

// WriteTrailer writes the trailer of the authenticated sector. Access bits are
// encoded from t, so a trailer that would lock the sector permanently cannot be
// produced by a bad inversion.
func (s *Session) WriteTrailer(actx AuthContext, t Trailer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeTrailer(actx, t)
}

func (s *Session) writeTrailer(actx AuthContext, t Trailer) error {
	if err := s.layout.CheckSector(OpWrite, actx.Sector); err != nil {
		return err
	}
	block := s.layout.TrailerBlock(actx.Sector)
	data, err := t.Bytes()
	if err != nil {
		return precondition(string(OpWrite), block, "%v", err)
	}
	if err := s.writeBlock(actx, block, data); err != nil {
		return err
	}
	logging.Info(logging.CatAuth, "Sector trailer written", map[string]any{
		"sector": actx.Sector,
		"block":  block,
	})
	return nil
}

// ChangeKeys replaces both keys of the authenticated sector and keeps its current
// access bits and user byte. The current trailer must be readable with actx.
func (s *Session) ChangeKeys(actx AuthContext, keyA, keyB [KeySize]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.layout.CheckSector(OpWrite, actx.Sector); err != nil {
		return err
	}
	block := s.layout.TrailerBlock(actx.Sector)
	current, err := s.readBlock(actx, block)
	if err != nil {
		return err
	}
	access, err := DecodeAccessBits([3]byte{current[6], current[7], current[8]})
	if err != nil {
		return &Error{Kind: KindMalformedResponse, Op: string(OpRead), Block: block, Err: err}
	}
	return s.writeTrailer(actx, Trailer{
		KeyA:     keyA,
		Access:   access,
		UserByte: current[9],
		KeyB:     keyB,
	})
}
