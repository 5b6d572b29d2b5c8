package mifare

import (
	"bytes"
	"fmt"
)

// BlockSize is the fixed MIFARE Classic block size.
const BlockSize = 16

// CardType identifies a MIFARE Classic variant.
type CardType int

const (
	CardUnknown CardType = iota
	CardMini
	Card1K
	Card4K
)

func (t CardType) String() string {
	switch t {
	case CardMini:
		return "MIFARE Mini"
	case Card1K:
		return "MIFARE Classic 1K"
	case Card4K:
		return "MIFARE Classic 4K"
	default:
		return "Unknown"
	}
}

func (t CardType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// SectorCount returns the fixed number of sectors for the card type.
func (t CardType) SectorCount() int {
	switch t {
	case CardMini:
		return 5
	case Card1K:
		return 16
	case Card4K:
		return 40
	default:
		return 0
	}
}

// BlockCount returns the total number of blocks for the card type.
func (t CardType) BlockCount() int {
	switch t {
	case CardMini:
		return 20
	case Card1K:
		return 64
	case Card4K:
		return 256
	default:
		return 0
	}
}

// Size in bytes.
func (t CardType) Size() int { return t.BlockCount() * BlockSize }

// 4K cards switch to 16-block sectors at sector 32 / block 128.
const (
	smallSectorBlocks = 4
	largeSectorBlocks = 16
	firstLargeSector  = 32
	firstLargeBlock   = firstLargeSector * smallSectorBlocks
)

// atrStoragePrefix is the PC/SC part 3 ATR prefix of contactless storage cards (RID A000000306).
var atrStoragePrefix = []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06}

// CardTypeFromATR decodes the PC/SC part 3 card name bytes of a contactless storage card ATR.
// Returns CardUnknown for ATRs that do not name a MIFARE Classic variant.
func CardTypeFromATR(atr []byte) CardType {
	if len(atr) < 15 || !bytes.HasPrefix(atr, atrStoragePrefix) {
		return CardUnknown
	}
	if atr[12] != 0x03 { // ISO 14443 A part 3
		return CardUnknown
	}
	switch uint16(atr[13])<<8 | uint16(atr[14]) {
	case 0x0001:
		return Card1K
	case 0x0002:
		return Card4K
	case 0x0026:
		return CardMini
	default:
		return CardUnknown
	}
}

// IsStorageCardATR reports whether atr follows the PC/SC part 3 storage card format,
// whatever card it names.
func IsStorageCardATR(atr []byte) bool {
	return len(atr) >= 15 && bytes.HasPrefix(atr, atrStoragePrefix)
}

// Role is the role of a block within the card layout.
type Role int

const (
	RoleData Role = iota
	RoleManufacturer
	RoleTrailer
	// RoleValue is assigned at runtime, only after a successful value block decode.
	RoleValue
)

func (r Role) String() string {
	switch r {
	case RoleManufacturer:
		return "manufacturer"
	case RoleTrailer:
		return "trailer"
	case RoleValue:
		return "value"
	default:
		return "data"
	}
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Layout computes sector and block addressing for one card type. Block membership is
// derived from the addressing formula, never stored.
type Layout struct {
	Type CardType
}

// NewLayout returns the layout for t.
func NewLayout(t CardType) Layout { return Layout{Type: t} }

func (l Layout) SectorCount() int { return l.Type.SectorCount() }
func (l Layout) BlockCount() int  { return l.Type.BlockCount() }

// ValidSector reports whether sector exists on the card.
func (l Layout) ValidSector(sector int) bool {
	return sector >= 0 && sector < l.SectorCount()
}

// ValidBlock reports whether block exists on the card.
func (l Layout) ValidBlock(block int) bool {
	return block >= 0 && block < l.BlockCount()
}

// BlocksInSector returns the number of blocks the sector owns.
func (l Layout) BlocksInSector(sector int) int {
	if sector >= firstLargeSector {
		return largeSectorBlocks
	}
	return smallSectorBlocks
}

// FirstBlock returns the first block index of sector.
func (l Layout) FirstBlock(sector int) int {
	if sector >= firstLargeSector {
		return firstLargeBlock + (sector-firstLargeSector)*largeSectorBlocks
	}
	return sector * smallSectorBlocks
}

// TrailerBlock returns the sector trailer: first block of the next sector minus 1.
func (l Layout) TrailerBlock(sector int) int {
	return l.FirstBlock(sector) + l.BlocksInSector(sector) - 1
}

// Blocks returns the block indices of sector in order.
func (l Layout) Blocks(sector int) []int {
	first := l.FirstBlock(sector)
	n := l.BlocksInSector(sector)
	out := make([]int, n)
	for i := range out {
		out[i] = first + i
	}
	return out
}

// SectorOf returns the sector owning block.
func (l Layout) SectorOf(block int) int {
	if block >= firstLargeBlock {
		return firstLargeSector + (block-firstLargeBlock)/largeSectorBlocks
	}
	return block / smallSectorBlocks
}

// IsTrailer reports whether block is a sector trailer.
func (l Layout) IsTrailer(block int) bool {
	return l.TrailerBlock(l.SectorOf(block)) == block
}

// StaticRole returns the role of block that follows from addressing alone.
func (l Layout) StaticRole(block int) Role {
	switch {
	case block == 0:
		return RoleManufacturer
	case l.IsTrailer(block):
		return RoleTrailer
	default:
		return RoleData
	}
}

// CheckSector returns a precondition error naming op if sector is not on the card.
func (l Layout) CheckSector(op Op, sector int) error {
	if !l.ValidSector(sector) {
		return precondition(string(op), -1, "sector %d out of range (card has %d sectors)", sector, l.SectorCount())
	}
	return nil
}

func (l Layout) CheckBlock(op Op, block int) error {
	if !l.ValidBlock(block) {
		return precondition(string(op), block, "block out of range (card has %d blocks)", l.BlockCount())
	}
	return nil
}

// CheckWritable refuses block 0 and sector trailers for data and value operations.
// It needs no card access, so callers can run it before authenticating.
func (l Layout) CheckWritable(op Op, block int) error {
	if err := l.CheckBlock(op, block); err != nil {
		return err
	}
	switch l.StaticRole(block) {
	case RoleManufacturer:
		return precondition(string(op), block, "manufacturer block is read-only")
	case RoleTrailer:
		return precondition(string(op), block, "block is a sector trailer")
	}
	return nil
}

// Card describes the detected card for the lifetime of a session.
type Card struct {
	UID  []byte
	ATR  []byte
	Type CardType
}

func (c Card) String() string {
	return fmt.Sprintf("%s UID=%X", c.Type, c.UID)
}
