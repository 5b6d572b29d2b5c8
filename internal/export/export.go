// Package export serializes dump reports for download: JSON, canonical CBOR and
// raw MFD card images.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/SimplyPrint/classic-agent/internal/mifare"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// CBOR encoding/decoding modes
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Canonical ordering; times keep sub-second precision.
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder: %v", err))
	}

	decMode, err = cbor.DecOptions{
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder: %v", err))
	}
}

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
	FormatMFD  Format = "mfd"
)

// ParseFormat accepts "json", "cbor" or "mfd"; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCBOR, FormatMFD:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (must be json, cbor or mfd)", s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatCBOR:
		return "application/cbor"
	case FormatMFD:
		return "application/octet-stream"
	default:
		return "application/json"
	}
}

// Extension is the conventional file extension, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Document wraps a report with an identity for storage and exchange.
type Document struct {
	ID        uuid.UUID          `json:"id" cbor:"1,keyasint"`
	CreatedAt time.Time          `json:"createdAt" cbor:"2,keyasint"`
	Generator string             `json:"generator,omitempty" cbor:"3,keyasint,omitempty"`
	Report    *mifare.DumpReport `json:"report" cbor:"4,keyasint"`
}

// NewDocument wraps report with a fresh random ID.
func NewDocument(report *mifare.DumpReport, generator string) *Document {
	return &Document{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Generator: generator,
		Report:    report,
	}
}

// Filename is a download name derived from the card UID and document ID.
func (d *Document) Filename(f Format) string {
	uid := "unknown"
	if d.Report != nil && len(d.Report.UID) > 0 {
		uid = fmt.Sprintf("%X", []byte(d.Report.UID))
	}
	return fmt.Sprintf("%s-%s.%s", uid, d.ID.String()[:8], f.Extension())
}

// Encode writes d to w in format f.
func Encode(w io.Writer, d *Document, f Format) error {
	switch f {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case FormatCBOR:
		b, err := EncodeCBOR(d)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case FormatMFD:
		if d.Report == nil {
			return fmt.Errorf("document has no report")
		}
		img, err := Image(d.Report)
		if err != nil {
			return err
		}
		_, err = w.Write(img)
		return err
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// EncodeCBOR encodes d as canonical CBOR: equal documents give equal bytes.
func EncodeCBOR(d *Document) ([]byte, error) {
	b, err := encMode.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return b, nil
}

// DecodeCBOR decodes a document produced by EncodeCBOR. Sector states are not
// carried and come back as their zero value.
func DecodeCBOR(data []byte) (*Document, error) {
	var d Document
	if err := decMode.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return &d, nil
}

// Image returns the raw card image: every block in order, 16 bytes each, sized to
// the full card. Blocks that were not read are zero. Trailers get the key that
// opened the sector written back in place, since the card never reveals Key A.
func Image(r *mifare.DumpReport) ([]byte, error) {
	layout := mifare.NewLayout(r.CardType)
	if layout.BlockCount() == 0 {
		return nil, fmt.Errorf("cannot build image for card type %s", r.CardType)
	}
	img := make([]byte, layout.BlockCount()*mifare.BlockSize)

	for _, sector := range r.Sectors {
		for _, b := range sector.Blocks {
			if !b.OK() || len(b.Data) != mifare.BlockSize || !layout.ValidBlock(b.Index) {
				continue
			}
			copy(img[b.Index*mifare.BlockSize:], b.Data)
		}
		if !sector.Authenticated || len(sector.Key) != mifare.KeySize || !layout.ValidSector(sector.Index) {
			continue
		}
		off := layout.TrailerBlock(sector.Index) * mifare.BlockSize
		switch sector.KeyType {
		case mifare.KeyA.String():
			copy(img[off:off+6], sector.Key)
		case mifare.KeyB.String():
			copy(img[off+10:off+16], sector.Key)
		}
	}
	return img, nil
}
