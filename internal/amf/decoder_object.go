package amf

import (
	"fmt"
	"strings"
)

// decodeAMF3Object reads the object-ref / traits-ref / traits-inline varint
// scheme, then dispatches externalizable classes by name and
// dynamic/sealed objects by declared member order.
func (d *Decoder) decodeAMF3Object() (string, error) {
	handle, err := d.r.readU29()
	if err != nil {
		return "", err
	}
	if handle&1 == 0 {
		idx := int(handle >> 1)
		if idx < 0 || idx >= len(d.objectRefs) {
			return "", fmt.Errorf("amf3: object reference %d out of range", idx)
		}
		return d.objectRefs[idx], nil
	}
	handle >>= 1

	var traits *classTraits
	if handle&1 == 0 {
		// Traits reference.
		idx := int(handle >> 1)
		if idx < 0 || idx >= len(d.traitRefs) {
			return "", fmt.Errorf("amf3: traits reference %d out of range", idx)
		}
		traits = d.traitRefs[idx]
	} else {
		handle >>= 1
		externalizable := handle&1 != 0
		dynamic := (handle>>1)&1 != 0
		memberCount := int(handle >> 2)

		name, err := d.readAMF3String()
		if err != nil {
			return "", err
		}
		members := make([]string, memberCount)
		for i := range members {
			members[i], err = d.readAMF3String()
			if err != nil {
				return "", err
			}
		}
		traits = &classTraits{name: name, externalizable: externalizable, dynamic: dynamic, members: members}
		d.traitRefs = append(d.traitRefs, traits)
	}

	refSlot := len(d.objectRefs)
	d.objectRefs = append(d.objectRefs, "null")

	var rendered string
	if traits.externalizable {
		rendered, err = d.decodeExternalizable(traits)
	} else {
		rendered, err = d.decodeMembers(traits)
	}
	if err != nil {
		return "", err
	}
	d.objectRefs[refSlot] = rendered
	return rendered, nil
}

// decodeMembers handles non-externalizable objects: the traits' declared
// member names in order, then, if the class is dynamic, key/value pairs
// until an empty-string key marks the end.
func (d *Decoder) decodeMembers(traits *classTraits) (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, name := range traits.members {
		v, err := d.DecodeAMF3()
		if err != nil {
			return "", err
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(escapeJSONString(name))
		b.WriteByte(':')
		b.WriteString(v)
	}
	if traits.dynamic {
		for {
			key, err := d.readAMF3String()
			if err != nil {
				return "", err
			}
			if key == "" {
				break
			}
			v, err := d.DecodeAMF3()
			if err != nil {
				return "", err
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			b.WriteString(escapeJSONString(key))
			b.WriteByte(':')
			b.WriteString(v)
		}
	}
	b.WriteByte('}')
	return b.String(), nil
}

// decodeExternalizable dispatches by class name.
func (d *Decoder) decodeExternalizable(traits *classTraits) (string, error) {
	switch classifyExternalizable(traits.name) {
	case classDSA:
		return d.decodeDSA()
	case classDSK:
		body, err := d.decodeDSA()
		if err != nil {
			return "", err
		}
		if err := d.consumeOptionalFlagGroup(); err != nil {
			return "", err
		}
		return body, nil
	case classArrayCollection:
		inner, err := d.DecodeAMF3()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"array":%s}`, inner), nil
	case classOtherKnown:
		n, err := d.r.readU32BE()
		if err != nil {
			return "", err
		}
		if _, err := d.r.readBytes(int(n)); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"class":%s,"bytes":%d}`, escapeJSONString(traits.name), n), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownClass, traits.name)
	}
}

// decodeDSA implements the flex messaging "AbstractMessage"/"AsyncMessage"
// flag-byte layout: each is a continuation-terminated flag-byte group, not
// a fixed two-byte pair — a byte's high bit (0x80) signals that another
// byte follows, and the group can run arbitrarily long, so readFlagGroup
// loops rather than assuming at most one continuation byte. Recognised
// bits are consumed and only body/destination/headers/timeStamp/
// timeToLive are emitted; clientId/messageId/correlationId are consumed
// and skipped.
func (d *Decoder) decodeDSA() (string, error) {
	fields := map[string]string{}
	order := []string{"body", "destination", "headers", "timeStamp", "timeToLive"}

	err := d.readFlagGroup(func(pos int, flag byte) error {
		switch pos {
		case 0:
			if flag&0x01 != 0 { // body
				v, err := d.DecodeAMF3()
				if err != nil {
					return err
				}
				fields["body"] = v
			}
			if flag&0x02 != 0 { // clientId (skipped)
				if _, err := d.DecodeAMF3(); err != nil {
					return err
				}
			}
			if flag&0x04 != 0 { // destination
				v, err := d.DecodeAMF3()
				if err != nil {
					return err
				}
				fields["destination"] = v
			}
			if flag&0x08 != 0 { // headers
				v, err := d.DecodeAMF3()
				if err != nil {
					return err
				}
				fields["headers"] = v
			}
			if flag&0x10 != 0 { // messageId (skipped)
				if _, err := d.DecodeAMF3(); err != nil {
					return err
				}
			}
			if flag&0x20 != 0 { // timeStamp
				v, err := d.DecodeAMF3()
				if err != nil {
					return err
				}
				fields["timeStamp"] = v
			}
			if flag&0x40 != 0 { // timeToLive
				v, err := d.DecodeAMF3()
				if err != nil {
					return err
				}
				fields["timeToLive"] = v
			}
			return nil
		case 1:
			if flag&0x01 != 0 { // clientId as a ByteArray-encoded UUID (skipped)
				if _, err := d.DecodeAMF3(); err != nil {
					return err
				}
			}
			if flag&0x02 != 0 { // messageId as a ByteArray-encoded UUID (skipped)
				if _, err := d.DecodeAMF3(); err != nil {
					return err
				}
			}
			return d.consumeRemainingBits(flag, 2)
		default:
			// Any flag byte beyond the two AbstractMessage defines is
			// entirely unknown to this decoder; every set bit among bits
			// 0-5 still gets one AMF3 value consumed.
			return d.consumeRemainingBits(flag, 0)
		}
	})
	if err != nil {
		return "", err
	}

	// AsyncMessage adds its own continuation-terminated correlationId
	// flag group, read the same way.
	err = d.readFlagGroup(func(pos int, flag byte) error {
		if pos > 0 {
			return d.consumeRemainingBits(flag, 0)
		}
		if flag&0x01 != 0 { // correlationId (skipped)
			if _, err := d.DecodeAMF3(); err != nil {
				return err
			}
		}
		if flag&0x02 != 0 { // correlationId as ByteArray (skipped)
			if _, err := d.DecodeAMF3(); err != nil {
				return err
			}
		}
		return d.consumeRemainingBits(flag, 2)
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, key := range order {
		v, ok := fields[key]
		if !ok {
			v = "null"
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(escapeJSONString(key))
		b.WriteByte(':')
		b.WriteString(v)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// consumeRemainingBits decodes and discards one AMF3 value for every bit
// position from fromBit up to bit 5 that is set in flag (bit 6 is not
// read; bit 7 is the continuation bit) — unexpected optional fields this decoder doesn't
// give bespoke treatment to, consumed so the stream stays aligned.
func (d *Decoder) consumeRemainingBits(flag byte, fromBit int) error {
	for i := fromBit; i < 6; i++ {
		if flag&(1<<uint(i)) != 0 {
			if _, err := d.DecodeAMF3(); err != nil {
				return err
			}
		}
	}
	return nil
}

// readFlagGroup reads a continuation-terminated flag-byte group: handle
// is called once per byte with its 0-based position within the group,
// and another byte is read only while the previous one's high bit
// (0x80) is set. handle is responsible for consuming every bit it
// doesn't give bespoke treatment to (see consumeRemainingBits) so the
// stream stays aligned regardless of how many bytes the group turns
// out to have.
func (d *Decoder) readFlagGroup(handle func(pos int, flag byte) error) error {
	pos := 0
	for {
		flag, err := d.r.readByte()
		if err != nil {
			return err
		}
		if err := handle(pos, flag); err != nil {
			return err
		}
		if flag&0x80 == 0 {
			return nil
		}
		pos++
	}
}

// consumeOptionalFlagGroup reads one flag-byte group (DSK's extension over
// DSA) and discards every field it signals.
func (d *Decoder) consumeOptionalFlagGroup() error {
	flag, err := d.r.readByte()
	if err != nil {
		return err
	}
	if err := d.consumeRemainingBits(flag, 0); err != nil {
		return err
	}
	for flag&0x80 != 0 {
		flag, err = d.r.readByte()
		if err != nil {
			return err
		}
		if err := d.consumeRemainingBits(flag, 0); err != nil {
			return err
		}
	}
	return nil
}
