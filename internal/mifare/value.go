package mifare

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ValueBlock is a decoded value block: a signed 32-bit value and an address byte.
//
// On the card it is stored with triple redundancy:
//
//	bytes  0-3   value   (little endian)
//	bytes  4-7   ^value
//	bytes  8-11  value
//	bytes 12-15  addr, ^addr, addr, ^addr
type ValueBlock struct {
	Value int32 `json:"value" cbor:"1,keyasint"`
	Addr  byte  `json:"addr" cbor:"2,keyasint"`
}

// Content is the classification of a data block: either PlainData or ValueBlock.
type Content interface {
	Bytes() []byte
	Role() Role
}

// PlainData is a block that is not a valid value block.
type PlainData []byte

func (p PlainData) Bytes() []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

func (PlainData) Role() Role { return RoleData }

// Bytes encodes v.
func (v ValueBlock) Bytes() []byte { return Encode(v) }

func (ValueBlock) Role() Role { return RoleValue }

func (v ValueBlock) String() string {
	return fmt.Sprintf("value=%d addr=%d", v.Value, v.Addr)
}

// Encode produces the fully redundant 16-byte layout.
func Encode(v ValueBlock) []byte {
	b := make([]byte, BlockSize)
	u := uint32(v.Value)
	binary.LittleEndian.PutUint32(b[0:4], u)
	binary.LittleEndian.PutUint32(b[4:8], ^u)
	binary.LittleEndian.PutUint32(b[8:12], u)
	b[12] = v.Addr
	b[13] = ^v.Addr
	b[14] = v.Addr
	b[15] = ^v.Addr
	return b
}

// InitValueBlock encodes a fresh value block with a caller-chosen value and address.
func InitValueBlock(value int32, addr byte) []byte {
	return Encode(ValueBlock{Value: value, Addr: addr})
}

// Decode validates the redundancy format and returns the value block. Any mismatch,
// or a length other than 16, yields ErrNotAValueBlock.
func Decode(data []byte) (ValueBlock, error) {
	if len(data) != BlockSize {
		return ValueBlock{}, ErrNotAValueBlock
	}
	v0 := binary.LittleEndian.Uint32(data[0:4])
	inv := binary.LittleEndian.Uint32(data[4:8])
	v1 := binary.LittleEndian.Uint32(data[8:12])
	if v0 != v1 || v0 != ^inv {
		return ValueBlock{}, ErrNotAValueBlock
	}
	a := data[12]
	if data[13] != ^a || data[14] != a || data[15] != ^a {
		return ValueBlock{}, ErrNotAValueBlock
	}
	return ValueBlock{Value: int32(v0), Addr: a}, nil
}

// ClassifyBlock returns ValueBlock when data decodes as one, PlainData otherwise.
func ClassifyBlock(data []byte) Content {
	if v, err := Decode(data); err == nil {
		return v
	}
	plain := make(PlainData, len(data))
	copy(plain, data)
	return plain
}

// ApplyDelta adds delta with overflow checking. On overflow the input is returned
// unchanged together with an Overflow error; there is no wraparound.
func ApplyDelta(v ValueBlock, delta int32) (ValueBlock, error) {
	sum := int64(v.Value) + int64(delta)
	if sum > math.MaxInt32 || sum < math.MinInt32 {
		return v, &Error{
			Kind:  KindOverflow,
			Op:    string(OpValue),
			Block: -1,
			Msg:   fmt.Sprintf("%d %+d exceeds the 32-bit signed range", v.Value, delta),
		}
	}
	v.Value = int32(sum)
	return v, nil
}
