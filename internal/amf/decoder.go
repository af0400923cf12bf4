package amf

import (
	"fmt"
	"strconv"
	"strings"
)

// AMF0 markers.
const (
	amf0Number    = 0x00
	amf0Boolean   = 0x01
	amf0String    = 0x02
	amf0Object    = 0x03
	amf0Null      = 0x05
	amf0AMF3Start = 0x11
)

// AMF3 markers.
const (
	amf3Undefined = 0x01
	amf3False     = 0x02
	amf3True      = 0x03
	amf3Integer   = 0x04
	amf3Double    = 0x05
	amf3String    = 0x06
	amf3Date      = 0x08
	amf3Array     = 0x09
	amf3Object    = 0x0A
	amf3ByteArray = 0x0C
)

// Decoder turns one top-level AMF0/AMF3 message into a JSON document.
//
// A Decoder must not be reused across messages: its string, object, and
// class-traits reference tables are scoped to a single message. Sharing
// them across messages is a latent bug source. Call NewDecoder once per
// message.
type Decoder struct {
	r *reader

	stringRefs []string
	objectRefs []string // rendered JSON fragments, for array/object/date back-references
	traitRefs  []*classTraits
}

// NewDecoder wraps buf for decoding a single top-level message.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{r: newReader(buf)}
}

// Remaining reports how many undecoded bytes are left in the message.
func (d *Decoder) Remaining() int {
	return d.r.remaining()
}

// DecodeAMF0 decodes one AMF0-encoded value (recursing into AMF3 on marker
// 0x11) and returns its JSON rendering.
func (d *Decoder) DecodeAMF0() (string, error) {
	marker, err := d.r.readByte()
	if err != nil {
		return "", err
	}
	return d.decodeAMF0Value(marker)
}

func (d *Decoder) decodeAMF0Value(marker byte) (string, error) {
	switch marker {
	case amf0Number:
		v, err := d.r.readF64BE()
		if err != nil {
			return "", err
		}
		return formatDouble(v), nil

	case amf0Boolean:
		b, err := d.r.readByte()
		if err != nil {
			return "", err
		}
		if b != 0 {
			return "true", nil
		}
		return "false", nil

	case amf0String:
		s, err := d.readAMF0RawString()
		if err != nil {
			return "", err
		}
		return escapeJSONString(s), nil

	case amf0Object:
		return d.decodeAMF0TypedObject()

	case amf0Null:
		return "null", nil

	case amf0AMF3Start:
		// Marker is hexadecimal 0x11, not the octal literal an earlier
		// draft of this matcher accidentally compared against.
		return d.DecodeAMF3()

	default:
		return "", fmt.Errorf("amf0: unsupported marker 0x%02x", marker)
	}
}

func (d *Decoder) readAMF0RawString() (string, error) {
	n, err := d.r.readU16BE()
	if err != nil {
		return "", err
	}
	b, err := d.r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeAMF0TypedObject reads key/value pairs (u16-length-prefixed key,
// AMF0 value) until a zero-length key, then consumes the trailing
// end-of-object marker byte.
func (d *Decoder) decodeAMF0TypedObject() (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for {
		keyLen, err := d.r.readU16BE()
		if err != nil {
			return "", err
		}
		if keyLen == 0 {
			break
		}
		keyBytes, err := d.r.readBytes(int(keyLen))
		if err != nil {
			return "", err
		}
		valMarker, err := d.r.readByte()
		if err != nil {
			return "", err
		}
		val, err := d.decodeAMF0Value(valMarker)
		if err != nil {
			return "", err
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(escapeJSONString(string(keyBytes)))
		b.WriteByte(':')
		b.WriteString(val)
	}
	// Trailing object-end marker byte, consumed and discarded.
	if _, err := d.r.readByte(); err != nil {
		return "", err
	}
	b.WriteByte('}')
	return b.String(), nil
}

// DecodeAMF3 decodes one AMF3-encoded value and returns its JSON rendering.
func (d *Decoder) DecodeAMF3() (string, error) {
	marker, err := d.r.readByte()
	if err != nil {
		return "", err
	}
	return d.decodeAMF3Value(marker)
}

func (d *Decoder) decodeAMF3Value(marker byte) (string, error) {
	switch marker {
	case amf3Undefined:
		return "null", nil
	case amf3False:
		return "false", nil
	case amf3True:
		return "true", nil
	case amf3Integer:
		v, err := d.readAMF3SignedInt()
		if err != nil {
			return "", err
		}
		return strconv.Itoa(int(v)), nil
	case amf3Double:
		v, err := d.r.readF64BE()
		if err != nil {
			return "", err
		}
		return formatDouble(v), nil
	case amf3String:
		s, err := d.readAMF3String()
		if err != nil {
			return "", err
		}
		return escapeJSONString(s), nil
	case amf3Date:
		return d.decodeAMF3Date()
	case amf3Array:
		return d.decodeAMF3Array()
	case amf3Object:
		return d.decodeAMF3Object()
	case amf3ByteArray:
		return d.decodeAMF3ByteArray()
	default:
		return "", fmt.Errorf("amf3: unsupported marker 0x%02x", marker)
	}
}

// readAMF3SignedInt reads a U29 and sign-extends it as a 29-bit two's
// complement value.
func (d *Decoder) readAMF3SignedInt() (int32, error) {
	u, err := d.r.readU29()
	if err != nil {
		return 0, err
	}
	const signBit = 1 << 28
	if u&signBit != 0 {
		return int32(u) - (1 << 29), nil
	}
	return int32(u), nil
}

// readAMF3String implements the inline/back-reference scheme shared by
// AMF3 strings: handle = (index<<1)|inline_flag.
func (d *Decoder) readAMF3String() (string, error) {
	handle, err := d.r.readU29()
	if err != nil {
		return "", err
	}
	if handle&1 == 0 {
		idx := int(handle >> 1)
		if idx < 0 || idx >= len(d.stringRefs) {
			return "", fmt.Errorf("amf3: string reference %d out of range", idx)
		}
		return d.stringRefs[idx], nil
	}
	length := int(handle >> 1)
	if length == 0 {
		return "", nil // empty strings are never added to the reference table
	}
	b, err := d.r.readBytes(length)
	if err != nil {
		return "", err
	}
	s := string(b)
	d.stringRefs = append(d.stringRefs, s)
	return s, nil
}

func (d *Decoder) decodeAMF3Date() (string, error) {
	handle, err := d.r.readU29()
	if err != nil {
		return "", err
	}
	if handle&1 == 0 {
		idx := int(handle >> 1)
		if idx < 0 || idx >= len(d.objectRefs) {
			return "", fmt.Errorf("amf3: date reference %d out of range", idx)
		}
		return d.objectRefs[idx], nil
	}
	ms, err := d.r.readF64BE()
	if err != nil {
		return "", err
	}
	rendered := formatDouble(ms)
	d.objectRefs = append(d.objectRefs, rendered)
	return rendered, nil
}

// decodeAMF3Array reads the dense+associative array form. A reference-table
// slot is reserved before any element is decoded so a self-referential
// structure resolves correctly, matching the original reader's ordering.
func (d *Decoder) decodeAMF3Array() (string, error) {
	handle, err := d.r.readU29()
	if err != nil {
		return "", err
	}
	if handle&1 == 0 {
		idx := int(handle >> 1)
		if idx < 0 || idx >= len(d.objectRefs) {
			return "", fmt.Errorf("amf3: array reference %d out of range", idx)
		}
		return d.objectRefs[idx], nil
	}
	denseCount := int(handle >> 1)

	refSlot := len(d.objectRefs)
	d.objectRefs = append(d.objectRefs, "null")

	// Associative portion: key/value pairs terminated by an empty key. The
	// common case is an empty associative part; any populated entries are
	// still consumed correctly to keep the stream aligned, but only the
	// dense elements are emitted.
	for {
		key, err := d.readAMF3String()
		if err != nil {
			return "", err
		}
		if key == "" {
			break
		}
		if _, err := d.DecodeAMF3(); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < denseCount; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		v, err := d.DecodeAMF3()
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}
	b.WriteByte(']')
	rendered := b.String()
	d.objectRefs[refSlot] = rendered
	return rendered, nil
}

// decodeAMF3ByteArray reads a varint-length-prefixed run of raw bytes,
// emitted as a JSON array of byte values. Given its own case rather than
// falling through to the dense-array reader, since a byte array's body
// is raw bytes, not a sequence of encoded AMF3 values.
func (d *Decoder) decodeAMF3ByteArray() (string, error) {
	handle, err := d.r.readU29()
	if err != nil {
		return "", err
	}
	if handle&1 == 0 {
		idx := int(handle >> 1)
		if idx < 0 || idx >= len(d.objectRefs) {
			return "", fmt.Errorf("amf3: byte array reference %d out of range", idx)
		}
		return d.objectRefs[idx], nil
	}
	length := int(handle >> 1)
	refSlot := len(d.objectRefs)
	d.objectRefs = append(d.objectRefs, "null")

	raw, err := d.r.readBytes(length)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range raw {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(v)))
	}
	b.WriteByte(']')
	rendered := b.String()
	d.objectRefs[refSlot] = rendered
	return rendered, nil
}

func formatDouble(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
