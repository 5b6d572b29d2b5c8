package mifare

import (
	"fmt"

	"github.com/skythen/apdu"
)

// Status words returned by PC/SC readers for the storage card pseudo-APDUs.
const (
	SWSuccess              = 0x9000
	SWOperationFailed      = 0x6300 // ACR122/ACR1252: auth failed, or read/write refused
	SWWrongLength          = 0x6700
	SWSecurityNotSatisfied = 0x6982
	SWAuthMethodBlocked    = 0x6983
	SWCommandNotAllowed    = 0x6986
	SWFunctionNotSupported = 0x6A81
	SWWrongP1P2            = 0x6A86
	SWKeyNotFound          = 0x6A88
	SWInsNotSupported      = 0x6D00
	SWClaNotSupported      = 0x6E00
)

// Op names the command family a response belongs to; classification depends on it.
type Op string

const (
	OpGetUID       Op = "get_uid"
	OpLoadKey      Op = "load_key"
	OpAuthenticate Op = "authenticate"
	OpRead         Op = "read"
	OpWrite        Op = "write"
	OpValue        Op = "value"
	OpRestore      Op = "restore"
)

// SWDescription returns a human-readable description of a status word.
func SWDescription(sw uint16) string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWOperationFailed:
		return "operation failed"
	case SWWrongLength:
		return "wrong length"
	case SWSecurityNotSatisfied:
		return "security status not satisfied"
	case SWAuthMethodBlocked:
		return "authentication method blocked"
	case SWCommandNotAllowed:
		return "command not allowed"
	case SWFunctionNotSupported:
		return "function not supported"
	case SWWrongP1P2:
		return "wrong P1/P2"
	case SWKeyNotFound:
		return "key not found"
	case SWInsNotSupported:
		return "instruction not supported"
	case SWClaNotSupported:
		return "class not supported"
	default:
		return "unknown status"
	}
}

// statusWord returns SW1SW2 of a response.
func statusWord(r apdu.Rapdu) uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// splitResponse turns a raw response frame into an apdu.Rapdu.
// Frames shorter than the two status bytes are malformed.
func splitResponse(op Op, block int, raw []byte) (apdu.Rapdu, error) {
	if len(raw) < 2 {
		return apdu.Rapdu{}, &Error{
			Kind:  KindMalformedResponse,
			Op:    string(op),
			Block: block,
			Msg:   fmt.Sprintf("response too short: %d bytes", len(raw)),
		}
	}
	n := len(raw)
	data := make([]byte, n-2)
	copy(data, raw[:n-2])
	return apdu.Rapdu{Data: data, SW1: raw[n-2], SW2: raw[n-1]}, nil
}

// Classify maps a response to nil or a typed error. wantLen is the exact number of
// data bytes a successful response must carry, or -1 for "any".
func Classify(op Op, block int, r apdu.Rapdu, wantLen int) error {
	sw := statusWord(r)
	if sw == SWSuccess {
		if wantLen >= 0 && len(r.Data) != wantLen {
			return &Error{
				Kind:  KindMalformedResponse,
				Op:    string(op),
				Block: block,
				SW:    sw,
				Msg:   fmt.Sprintf("expected %d data bytes, got %d", wantLen, len(r.Data)),
			}
		}
		return nil
	}

	kind := KindMalformedResponse
	switch op {
	case OpAuthenticate:
		switch sw {
		case SWOperationFailed, SWSecurityNotSatisfied, SWAuthMethodBlocked, SWCommandNotAllowed:
			kind = KindAuthDenied
		}
	case OpRead, OpWrite, OpValue, OpRestore:
		switch sw {
		case SWOperationFailed, SWSecurityNotSatisfied, SWAuthMethodBlocked, SWCommandNotAllowed:
			kind = KindBlockAccessDenied
		}
	}
	return &Error{Kind: kind, Op: string(op), Block: block, SW: sw}
}

// lost wraps a transport failure. Every transmit error, timeouts included, is TransceiverLost.
func lost(op Op, block int, err error) error {
	return &Error{Kind: KindTransceiverLost, Op: string(op), Block: block, Err: err}
}
