package amf

// AddHeaders wraps body in the RTMP chunked-message framing the upstream
// server expects: a 12-byte channel header (chunk stream id baked into the
// low nibble of the basic header byte, a 3-byte elapsed-time field, a
// 3-byte big-endian message length, a 1-byte message type, and a 4-byte
// little-endian message stream id of 0), followed by the body split into
// 128-byte chunks with a single continuation byte (0xC3) inserted before
// each chunk after the first.
func AddHeaders(body []byte, messageType byte, elapsedMs uint32) []byte {
	out := make([]byte, 0, len(body)+len(body)/128+12)

	out = append(out, 0x03) // basic header: fmt=0 (full header), chunk stream id 3
	out = append(out,
		byte(elapsedMs>>16), byte(elapsedMs>>8), byte(elapsedMs), // 3-byte timestamp
	)
	length := uint32(len(body))
	out = append(out,
		byte(length>>16), byte(length>>8), byte(length), // 3-byte message length
	)
	out = append(out, messageType)
	out = append(out, 0, 0, 0, 0) // message stream id, little-endian 0

	for i := 0; i < len(body); i += 128 {
		if i > 0 {
			out = append(out, 0xC3)
		}
		end := i + 128
		if end > len(body) {
			end = len(body)
		}
		out = append(out, body[i:end]...)
	}
	return out
}
