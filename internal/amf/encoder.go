package amf

// Encoder builds the AMF3 encoding subset needed to frame outbound
// invocations: null/true/false/int/double/string/date/dense-array/
// associative-array/typed-object. Strings and objects are always written
// inline (no back-references), matching the original worker's outbound
// encoder — only inbound decoding needs the reference-table machinery.
type Encoder struct {
	w writer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the bytes written so far.
func (e *Encoder) Bytes() []byte {
	return e.w.buf
}

// WriteNull writes the AMF3 undefined/null marker.
func (e *Encoder) WriteNull() {
	e.w.writeByte(amf3Undefined)
}

// WriteBool writes an AMF3 true/false marker.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.w.writeByte(amf3True)
	} else {
		e.w.writeByte(amf3False)
	}
}

// WriteInt writes a signed 29-bit integer with its marker.
func (e *Encoder) WriteInt(v int32) {
	e.w.writeByte(amf3Integer)
	e.w.writeU29(uint32(v) & 0x1FFFFFFF)
}

// WriteDouble writes a big-endian double with its marker.
func (e *Encoder) WriteDouble(v float64) {
	e.w.writeByte(amf3Double)
	e.w.writeF64BE(v)
}

// WriteString writes a string inline (length<<1|1, then raw bytes); the
// empty string is written as the canonical empty-inline form.
func (e *Encoder) WriteString(s string) {
	e.w.writeByte(amf3String)
	e.writeInlineString(s)
}

func (e *Encoder) writeInlineString(s string) {
	e.w.writeU29((uint32(len(s)) << 1) | 1)
	e.w.writeBytes([]byte(s))
}

// WriteDate writes a double-valued (epoch milliseconds) date, always
// inline.
func (e *Encoder) WriteDate(epochMillis float64) {
	e.w.writeByte(amf3Date)
	e.w.writeU29(1) // inline, no reference
	e.w.writeF64BE(epochMillis)
}

// WriteDenseArray writes each element of items (already-encoded AMF3
// fragments) as a dense array with an empty associative part.
func (e *Encoder) WriteDenseArray(items [][]byte) {
	e.w.writeByte(amf3Array)
	e.w.writeU29((uint32(len(items)) << 1) | 1)
	e.writeInlineString("") // empty associative-part terminator
	for _, item := range items {
		e.w.writeBytes(item)
	}
}

// WriteAssociativeArray writes an associative-only array (dense count 0)
// with the given ordered key/value pairs, each value an already-encoded
// AMF3 fragment.
func (e *Encoder) WriteAssociativeArray(keys []string, values [][]byte) {
	e.w.writeByte(amf3Array)
	e.w.writeU29(1) // dense count 0, inline
	for i, k := range keys {
		e.writeInlineString(k)
		e.w.writeBytes(values[i])
	}
	e.writeInlineString("")
}

// WriteObject writes a dynamic, non-externalizable typed object with an
// empty sealed-member list and the given key/value pairs, each value an
// already-encoded AMF3 fragment. className may be empty for an anonymous
// object.
func (e *Encoder) WriteObject(className string, keys []string, values [][]byte) {
	e.w.writeByte(amf3Object)
	// U29O-ref inline(1) | traits-inline(1) | externalizable(0) | dynamic(1) | member-count(0)
	e.w.writeU29(0x0B)
	e.writeInlineString(className)
	for i, k := range keys {
		e.writeInlineString(k)
		e.w.writeBytes(values[i])
	}
	e.writeInlineString("")
}

// Encode is a convenience that returns the bytes of a single self-contained
// encode step, for building up nested values before splicing them into a
// parent container (dense array element, object member value, ...).
func Encode(fn func(*Encoder)) []byte {
	e := NewEncoder()
	fn(e)
	return e.Bytes()
}
