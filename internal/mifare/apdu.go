package mifare

import (
	"encoding/binary"

	"github.com/skythen/apdu"
)

// PC/SC part 3 storage card pseudo-APDUs (CLA 0xFF).
const (
	claPCSC       = 0xFF
	insGetData    = 0xCA
	insLoadKey    = 0x82
	insGeneralAut = 0x86
	insReadBinary = 0xB0
	insUpdateBin  = 0xD6
	insValueOp    = 0xD7

	authVersion = 0x01

	valueOpIncrement = 0x01
	valueOpDecrement = 0x02
	valueOpRestore   = 0x03
)

// GetUIDCommand builds FF CA 00 00 00.
func GetUIDCommand() apdu.Capdu {
	return apdu.Capdu{Cla: claPCSC, Ins: insGetData, P1: 0x00, P2: 0x00, Ne: apdu.MaxLenResponseDataStandard}
}

// LoadKeyCommand builds FF 82 00 <slot> 06 <key>, loading key into the reader's volatile slot.
func LoadKeyCommand(slot byte, key [KeySize]byte) apdu.Capdu {
	data := make([]byte, KeySize)
	copy(data, key[:])
	return apdu.Capdu{Cla: claPCSC, Ins: insLoadKey, P1: 0x00, P2: slot, Data: data}
}

// AuthenticateCommand builds FF 86 00 00 05 01 00 <block> <type> <slot>.
func AuthenticateCommand(block int, keyType KeyType, slot byte) apdu.Capdu {
	return apdu.Capdu{
		Cla:  claPCSC,
		Ins:  insGeneralAut,
		Data: []byte{authVersion, byte(block >> 8), byte(block), byte(keyType), slot},
	}
}

// ReadBlockCommand builds FF B0 00 <block> 10.
func ReadBlockCommand(block int) apdu.Capdu {
	return apdu.Capdu{Cla: claPCSC, Ins: insReadBinary, P1: byte(block >> 8), P2: byte(block), Ne: BlockSize}
}

// WriteBlockCommand builds FF D6 00 <block> 10 <data>.
func WriteBlockCommand(block int, data []byte) apdu.Capdu {
	payload := make([]byte, len(data))
	copy(payload, data)
	return apdu.Capdu{Cla: claPCSC, Ins: insUpdateBin, P1: byte(block >> 8), P2: byte(block), Data: payload}
}

// ValueCommand builds FF D7 00 <block> 05 <op> <magnitude MSB first>.
func ValueCommand(block int, op byte, magnitude uint32) apdu.Capdu {
	data := make([]byte, 5)
	data[0] = op
	binary.BigEndian.PutUint32(data[1:], magnitude)
	return apdu.Capdu{Cla: claPCSC, Ins: insValueOp, P1: byte(block >> 8), P2: byte(block), Data: data}
}

// RestoreValueCommand builds FF D7 00 <src> 02 03 <dst>.
func RestoreValueCommand(src, dst int) apdu.Capdu {
	return apdu.Capdu{
		Cla:  claPCSC,
		Ins:  insValueOp,
		P1:   byte(src >> 8),
		P2:   byte(src),
		Data: []byte{valueOpRestore, byte(dst)},
	}
}
