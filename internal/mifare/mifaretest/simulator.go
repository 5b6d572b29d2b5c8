// Package mifaretest provides an in-memory MIFARE Classic card behind a PC/SC
// reader, speaking the storage card pseudo-APDUs at byte level.
package mifaretest

import (
	"encoding/binary"
	"errors"
	"sync"
)

// ErrRemoved is returned by Transmit once the card has left the field.
var ErrRemoved = errors.New("mifaretest: card removed")

// Known ATRs as reported by ACR122U style readers.
var (
	ATR1K   = []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x6A}
	ATR4K   = []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x03, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0x69}
	ATRMini = []byte{0x3B, 0x8F, 0x80, 0x01, 0x80, 0x4F, 0x0C, 0xA0, 0x00, 0x00, 0x03, 0x06, 0x03, 0x00, 0x26, 0x00, 0x00, 0x00, 0x00, 0x4D}
)

var (
	swOK         = []byte{0x90, 0x00}
	swFailed     = []byte{0x63, 0x00}
	swWrongLen   = []byte{0x67, 0x00}
	swDenied     = []byte{0x69, 0x82}
	swNoFunction = []byte{0x6A, 0x81}
	swWrongP1P2  = []byte{0x6A, 0x86}
)

// FactoryKey is the transport key of a blank card.
var FactoryKey = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Card is a simulated card. The zero value is unusable; use New1K, New4K or NewMini.
type Card struct {
	mu sync.Mutex

	UID    []byte
	ATR    []byte
	blocks [][16]byte

	slots      map[byte][6]byte
	authSector int

	denyRead  map[int]bool
	denyWrite map[int]bool
	overrides map[string][]byte

	removed       bool
	removeAfter   int
	removeOnAuth  map[int]bool
	transmits     int
	commands      [][]byte
	authenticates int
}

// New1K returns a blank 1K card with UID 04A1B2C3.
func New1K() *Card { return newCard(64, ATR1K) }

// New4K returns a blank 4K card.
func New4K() *Card { return newCard(256, ATR4K) }

// NewMini returns a blank Mini card.
func NewMini() *Card { return newCard(20, ATRMini) }

func newCard(blocks int, atr []byte) *Card {
	c := &Card{
		UID:          []byte{0x04, 0xA1, 0xB2, 0xC3},
		ATR:          append([]byte(nil), atr...),
		blocks:       make([][16]byte, blocks),
		slots:        make(map[byte][6]byte),
		authSector:   -1,
		denyRead:     make(map[int]bool),
		denyWrite:    make(map[int]bool),
		overrides:    make(map[string][]byte),
		removeOnAuth: make(map[int]bool),
	}
	var bcc byte
	for _, b := range c.UID {
		bcc ^= b
	}
	copy(c.blocks[0][:], c.UID)
	c.blocks[0][4] = bcc
	c.blocks[0][5] = 0x08
	c.blocks[0][6] = 0x04
	for s := 0; s < c.sectorCount(); s++ {
		c.SetKeys(s, FactoryKey, FactoryKey)
	}
	return c
}

func (c *Card) sectorCount() int {
	if len(c.blocks) > 128 {
		return 32 + (len(c.blocks)-128)/16
	}
	return len(c.blocks) / 4
}

func sectorOf(block int) int {
	if block >= 128 {
		return 32 + (block-128)/16
	}
	return block / 4
}

func trailerOf(sector int) int {
	if sector >= 32 {
		return 128 + (sector-32)*16 + 15
	}
	return sector*4 + 3
}

// SetKeys installs Key A and Key B on sector with transport access bits.
func (c *Card) SetKeys(sector int, keyA, keyB [6]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &c.blocks[trailerOf(sector)]
	copy(t[0:6], keyA[:])
	t[6], t[7], t[8], t[9] = 0xFF, 0x07, 0x80, 0x69
	copy(t[10:16], keyB[:])
}

// SetBlock overwrites the raw contents of block.
func (c *Card) SetBlock(block int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.blocks[block][:], data)
}

// Block returns the raw contents of block, trailer keys included.
func (c *Card) Block(block int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.blocks[block]
	return b[:]
}

// SetValue stores block as a value block holding v with the block number as address.
func (c *Card) SetValue(block int, v int32) {
	c.SetBlock(block, valueBytes(v, byte(block)))
}

// DenyRead makes reads of block fail with 6982.
func (c *Card) DenyRead(block int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denyRead[block] = true
}

// DenyWrite makes writes and value operations on block fail with 6982.
func (c *Card) DenyWrite(block int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denyWrite[block] = true
}

// Respond makes the command cmd answer resp verbatim.
func (c *Card) Respond(cmd, resp []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[string(cmd)] = append([]byte(nil), resp...)
}

// Remove takes the card out of the field.
func (c *Card) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = true
}

// RemoveAfter removes the card once n commands have been answered.
func (c *Card) RemoveAfter(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeAfter = n
}

// RemoveOnAuth removes the card when an authenticate command for sector arrives.
func (c *Card) RemoveOnAuth(sector int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeOnAuth[sector] = true
}

// Transmits returns the number of Transmit calls, failed ones included.
func (c *Card) Transmits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transmits
}

// Authentications returns the number of authenticate commands received.
func (c *Card) Authentications() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticates
}

// Commands returns a copy of every command received.
func (c *Card) Commands() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.commands))
	for i, cmd := range c.commands {
		out[i] = append([]byte(nil), cmd...)
	}
	return out
}

// ResetCounters clears the transmit and command log.
func (c *Card) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transmits = 0
	c.authenticates = 0
	c.commands = nil
}

// Transmit executes one command frame.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.transmits++
	c.commands = append(c.commands, append([]byte(nil), cmd...))
	if c.removed {
		return nil, ErrRemoved
	}
	if c.removeAfter > 0 && c.transmits > c.removeAfter {
		c.removed = true
		return nil, ErrRemoved
	}
	if resp, ok := c.overrides[string(cmd)]; ok {
		return append([]byte(nil), resp...), nil
	}
	if len(cmd) < 4 || cmd[0] != 0xFF {
		return swNoFunction, nil
	}

	block := int(cmd[2])<<8 | int(cmd[3])
	body := cmd[4:]

	switch cmd[1] {
	case 0xCA:
		return append(append([]byte(nil), c.UID...), swOK...), nil
	case 0x82:
		if len(body) != 7 || body[0] != 6 {
			return swWrongLen, nil
		}
		var key [6]byte
		copy(key[:], body[1:])
		c.slots[cmd[3]] = key
		return swOK, nil
	case 0x86:
		return c.authenticate(body)
	case 0xB0:
		return c.read(block)
	case 0xD6:
		if len(body) != 17 || body[0] != 16 {
			return swWrongLen, nil
		}
		return c.write(block, body[1:])
	case 0xD7:
		if len(body) < 1 || int(body[0]) != len(body)-1 {
			return swWrongLen, nil
		}
		return c.value(block, body[1:])
	default:
		return swNoFunction, nil
	}
}

func (c *Card) authenticate(body []byte) ([]byte, error) {
	if len(body) != 6 || body[0] != 5 || body[1] != 0x01 {
		return swWrongLen, nil
	}
	c.authenticates++
	block := int(body[2])<<8 | int(body[3])
	if block >= len(c.blocks) {
		return swWrongP1P2, nil
	}
	sector := sectorOf(block)
	if c.removeOnAuth[sector] {
		c.removed = true
		return nil, ErrRemoved
	}
	c.authSector = -1
	key, ok := c.slots[body[5]]
	if !ok {
		return swFailed, nil
	}
	t := c.blocks[trailerOf(sector)]
	var want []byte
	switch body[4] {
	case 0x60:
		want = t[0:6]
	case 0x61:
		want = t[10:16]
	default:
		return swWrongP1P2, nil
	}
	if string(want) != string(key[:]) {
		return swFailed, nil
	}
	c.authSector = sector
	return swOK, nil
}

func (c *Card) allowed(block int) bool {
	return block < len(c.blocks) && c.authSector >= 0 && sectorOf(block) == c.authSector
}

func (c *Card) read(block int) ([]byte, error) {
	if !c.allowed(block) || c.denyRead[block] {
		return swDenied, nil
	}
	data := c.blocks[block]
	if trailerOf(sectorOf(block)) == block {
		for i := 0; i < 6; i++ {
			data[i] = 0
		}
	}
	return append(data[:], swOK...), nil
}

func (c *Card) write(block int, data []byte) ([]byte, error) {
	if !c.allowed(block) || c.denyWrite[block] || block == 0 {
		return swDenied, nil
	}
	copy(c.blocks[block][:], data)
	return swOK, nil
}

func (c *Card) value(block int, args []byte) ([]byte, error) {
	if !c.allowed(block) || c.denyWrite[block] {
		return swDenied, nil
	}
	v, addr, ok := decodeValue(c.blocks[block])
	if !ok {
		return swFailed, nil
	}
	switch {
	case len(args) == 5 && (args[0] == 0x01 || args[0] == 0x02):
		n := int32(binary.BigEndian.Uint32(args[1:]))
		if args[0] == 0x02 {
			n = -n
		}
		copy(c.blocks[block][:], valueBytes(v+n, addr))
	case len(args) == 2 && args[0] == 0x03:
		dst := int(args[1])
		if !c.allowed(dst) || c.denyWrite[dst] {
			return swDenied, nil
		}
		_, dstAddr, ok := decodeValue(c.blocks[dst])
		if !ok {
			dstAddr = byte(dst)
		}
		copy(c.blocks[dst][:], valueBytes(v, dstAddr))
	default:
		return swWrongLen, nil
	}
	return swOK, nil
}

func valueBytes(v int32, addr byte) []byte {
	b := make([]byte, 16)
	u := uint32(v)
	binary.LittleEndian.PutUint32(b[0:4], u)
	binary.LittleEndian.PutUint32(b[4:8], ^u)
	binary.LittleEndian.PutUint32(b[8:12], u)
	b[12], b[13], b[14], b[15] = addr, ^addr, addr, ^addr
	return b
}

func decodeValue(b [16]byte) (int32, byte, bool) {
	u := binary.LittleEndian.Uint32(b[0:4])
	if binary.LittleEndian.Uint32(b[4:8]) != ^u || binary.LittleEndian.Uint32(b[8:12]) != u {
		return 0, 0, false
	}
	if b[13] != ^b[12] || b[14] != b[12] || b[15] != ^b[12] {
		return 0, 0, false
	}
	return int32(u), b[12], true
}
