package session

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/honux/lolbuff/internal/amf"
	"github.com/honux/lolbuff/internal/worker/dispatchlink"
	"github.com/honux/lolbuff/internal/worker/translator"
)

// authFollowUpValue base64-encodes "username:sessionToken" into a bare AMF3
// string fragment, the body the post-login "auth" RemotingMessage carries.
func authFollowUpValue(username, sessionToken string) []byte {
	raw := fmt.Sprintf("%s:%s", username, sessionToken)
	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	return amf.Encode(func(e *amf.Encoder) { e.WriteString(encoded) })
}

// buildMessagingRegistration builds the CommandMessage the original sends
// right after login to subscribe the client to its messaging destination: a
// one-element dense array holding a single empty AMF3 object.
func buildMessagingRegistration(headers []byte) []byte {
	emptyObject := amf.Encode(func(e *amf.Encoder) { e.WriteObject("", nil, nil) })
	body := amf.Encode(func(e *amf.Encoder) { e.WriteDenseArray([][]byte{emptyObject}) })
	return translator.WrapMessage("flex.messaging.messages.CommandMessage", "messagingDestination", "0",
		translator.RandomMessageID(), headers, body)
}

// amfEncodeHeartbeatArgs encodes DoBeatHeart's four positional arguments:
// account id, session token, beat counter, and a formatted GMT timestamp.
func amfEncodeHeartbeatArgs(accountID int64, sessionToken string, beatCount uint32, timeString string) []byte {
	items := [][]byte{
		amf.Encode(func(e *amf.Encoder) { e.WriteInt(int32(accountID)) }),
		amf.Encode(func(e *amf.Encoder) { e.WriteString(sessionToken) }),
		amf.Encode(func(e *amf.Encoder) { e.WriteInt(int32(beatCount)) }),
		amf.Encode(func(e *amf.Encoder) { e.WriteString(timeString) }),
	}
	return amf.Encode(func(e *amf.Encoder) { e.WriteDenseArray(items) })
}

// decodeRequestBody turns an already wire-parsed dispatcher request
// payload back into the AMF3 request-array fragment the upstream
// invocation carries as its body, mirroring the dispatcher's
// workerconn.Encode* formats byte for byte.
func decodeRequestBody(req dispatchlink.Request) ([]byte, error) {
	switch req.Type {
	case dispatchlink.FrameNumeric:
		if len(req.Payload) != 4 {
			return nil, fmt.Errorf("session: numeric request payload has %d bytes, want 4", len(req.Payload))
		}
		return translator.NumericBody(binary.LittleEndian.Uint32(req.Payload)), nil

	case dispatchlink.FrameString:
		return translator.StringBody(string(req.Payload)), nil

	case dispatchlink.FrameList:
		if len(req.Payload)%4 != 0 {
			return nil, fmt.Errorf("session: list request payload has %d bytes, not a multiple of 4", len(req.Payload))
		}
		nums := make([]uint32, len(req.Payload)/4)
		for i := range nums {
			nums[i] = binary.LittleEndian.Uint32(req.Payload[i*4 : i*4+4])
		}
		return translator.ListBody(nums), nil

	case dispatchlink.FrameGeneric:
		args, err := decodeGenericArgs(req.Payload)
		if err != nil {
			return nil, err
		}
		return translator.GenericBody(args), nil

	default:
		return nil, fmt.Errorf("session: unsupported request type %#x", req.Type)
	}
}

// decodeGenericArgs parses the [count][tag,data]*count layout
// dispatchlink.Link.readGenericPayload produces: tag 0x01 is a
// length-prefixed string (a trailing 0x00 terminator counted in the length
// is dropped), anything else a 4-byte little-endian integer.
func decodeGenericArgs(payload []byte) ([]translator.GenericArg, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("session: generic request payload empty")
	}
	count := int(payload[0])
	pos := 1
	args := make([]translator.GenericArg, 0, count)
	for i := 0; i < count; i++ {
		if pos >= len(payload) {
			return nil, fmt.Errorf("session: generic request payload truncated at arg %d", i)
		}
		tag := payload[pos]
		pos++
		if tag == 0x01 {
			if pos >= len(payload) {
				return nil, fmt.Errorf("session: generic request payload truncated at string length for arg %d", i)
			}
			n := int(payload[pos])
			pos++
			if pos+n > len(payload) {
				return nil, fmt.Errorf("session: generic request payload truncated at string body for arg %d", i)
			}
			str := payload[pos : pos+n]
			if len(str) > 0 && str[len(str)-1] == 0x00 {
				str = str[:len(str)-1]
			}
			args = append(args, translator.GenericArg{IsString: true, Str: string(str)})
			pos += n
		} else {
			if pos+4 > len(payload) {
				return nil, fmt.Errorf("session: generic request payload truncated at numeric body for arg %d", i)
			}
			args = append(args, translator.GenericArg{Num: binary.LittleEndian.Uint32(payload[pos : pos+4])})
			pos += 4
		}
	}
	return args, nil
}
