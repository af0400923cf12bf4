package session

import (
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/honux/lolbuff/internal/amf"
	"github.com/honux/lolbuff/internal/worker/translator"
)

// AMF0 primitive writers. The "connect" command is the one message the
// original client builds directly against the AMF0 opcode stream instead
// of through the RemotingMessage/_Invoke path every other call uses, so it
// needs its own small set of markers rather than amf.Encoder (AMF3-only,
// by design — see internal/amf's package doc).
func amf0String(s string) []byte {
	out := make([]byte, 0, 3+len(s))
	out = append(out, 0x02)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	out = append(out, lenBuf[:]...)
	out = append(out, s...)
	return out
}

func amf0DoubleMarker(v float64) []byte {
	out := make([]byte, 9)
	out[0] = 0x00
	binary.BigEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

func amf0Bool(v bool) []byte {
	b := byte(0)
	if v {
		b = 1
	}
	return []byte{0x01, b}
}

const amf0ToAMF3Marker = 0x11

// buildConnectParams encodes the AMF3 associative array of RTMP connect
// parameters the upstream server expects, keyed exactly as the original
// sends them.
func buildConnectParams(gameServerURL string) []byte {
	return amf.Encode(func(e *amf.Encoder) {
		e.WriteAssociativeArray(
			[]string{"app", "flashVer", "swfUrl", "tcUrl", "fpad", "capabilities", "audioCodecs", "videoCodecs", "videoFunction", "pageUrl", "objectEncoding"},
			[][]byte{
				amf.Encode(func(e *amf.Encoder) { e.WriteString("") }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString("WIN 10,1,85,3") }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString("app:/mod_ser.dat") }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString(gameServerURL) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteBool(false) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteInt(239) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteInt(3191) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteInt(252) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteInt(1) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteNull() }),
				amf.Encode(func(e *amf.Encoder) { e.WriteInt(3) }),
			})
	})
}

// buildConnectCommandMessage encodes the empty-body CommandMessage the
// connect invocation carries alongside its param associative array.
func buildConnectCommandMessage(messageID string) []byte {
	nullField := amf.Encode(func(e *amf.Encoder) { e.WriteNull() })
	zero := amf.Encode(func(e *amf.Encoder) { e.WriteInt(0) })
	emptyHeaders := amf.Encode(func(e *amf.Encoder) {
		e.WriteAssociativeArray(
			[]string{"DSMessagingVersion", "DSId"},
			[][]byte{
				amf.Encode(func(e *amf.Encoder) { e.WriteInt(1) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString("my-rtmps") }),
			})
	})
	emptyBody := amf.Encode(func(e *amf.Encoder) { e.WriteObject("", nil, nil) })
	return amf.Encode(func(e *amf.Encoder) {
		e.WriteObject("flex.messaging.messages.CommandMessage",
			[]string{"messageRefType", "operation", "correlationId", "clientId", "destination", "messageId", "timestamp", "timeToLive", "body", "headers"},
			[][]byte{
				nullField,
				amf.Encode(func(e *amf.Encoder) { e.WriteInt(5) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString("") }),
				nullField,
				amf.Encode(func(e *amf.Encoder) { e.WriteString("") }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString(messageID) }),
				zero,
				zero,
				emptyBody,
				emptyHeaders,
			})
	})
}

// BuildConnectFrame assembles the hand-rolled "connect" RTMP message: a
// bare AMF0 command-name/transaction-id/params triple followed by the
// empty CommandMessage, chunk-framed as message type 0x14.
func BuildConnectFrame(gameServerURL, messageID string, elapsedMs uint32) []byte {
	var body []byte
	body = append(body, amf0String("connect")...)
	body = append(body, amf0DoubleMarker(1)...)
	body = append(body, amf0ToAMF3Marker)
	body = append(body, buildConnectParams(gameServerURL)...)
	body = append(body, amf0Bool(false)...)
	body = append(body, amf0String("nil")...)
	body = append(body, amf0String("")...)
	body = append(body, amf0ToAMF3Marker)
	body = append(body, buildConnectCommandMessage(messageID)...)
	return amf.AddHeaders(body, 0x14, elapsedMs)
}

// BuildLoginInvocation encodes the login RemotingMessage invoking
// loginService.login with the account credential and a fresh random MAC
// address, per the original's _LoginPart1.
func BuildLoginInvocation(username, password, authToken, clientVersion, macAddress, messageID string, headers []byte) []byte {
	bodyObj := amf.Encode(func(e *amf.Encoder) {
		nullField := amf.Encode(func(e *amf.Encoder) { e.WriteNull() })
		e.WriteObject("com.riotgames.platform.login.AuthenticationCredentials",
			[]string{"username", "password", "authToken", "clientVersion", "locale", "domain", "macAddress", "operatingSystem", "securityAnswer", "partnerCredentials", "oldPassword"},
			[][]byte{
				amf.Encode(func(e *amf.Encoder) { e.WriteString(username) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString(password) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString(authToken) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString(clientVersion) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString("pt_BR") }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString("lolclient.lol.riotgames.com") }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString(macAddress) }),
				amf.Encode(func(e *amf.Encoder) { e.WriteString("TEEMO_API") }),
				nullField,
				nullField,
				nullField,
			})
	})
	argsArray := amf.Encode(func(e *amf.Encoder) { e.WriteDenseArray([][]byte{bodyObj}) })
	return translator.WrapRemoting("loginService", "login", messageID, headers, argsArray)
}

// RandomMACAddress generates a colon-separated hex MAC address, matching
// the shape (though not the entropy source) of the original's per-login
// random MAC.
func RandomMACAddress() string {
	var raw [6]byte
	_, _ = rand.Read(raw[:])
	const hex = "0123456789ABCDEF"
	out := make([]byte, 0, 17)
	for i, b := range raw {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hex[b>>4], hex[b&0x0F])
	}
	return string(out)
}
