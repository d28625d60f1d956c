// Package wire implements the binary frame codec: the wire unit shared
// by every request, response, error, and server-pushed event crossing
// the notebook's duplex channel.
//
// Frames are encoded as MessagePack maps. No schema is enforced here —
// validation of action names, topics, and payload shapes lives in
// internal/transport. The codec's only job is a faithful, round-trip
// identity encoding of the record shapes it accepts.
package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags the four frame shapes the transport understands.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindError    Kind = "error"
	KindEvent    Kind = "event"
)

// Frame is the decoded form of one wire message.
//
// Only the fields relevant to Kind are populated; the rest are left at
// their zero value. Unknown top-level fields encountered on decode are
// preserved in Extra so a frame can be re-encoded without silently
// dropping information the server sent but this client version does not
// know about yet — the same unknown-field-preserving discipline the
// teacher's ContentBlock JSON codec followed, adapted to MessagePack.
type Frame struct {
	Kind Kind `msgpack:"kind"`

	// Request fields.
	Action        string `msgpack:"action,omitempty"`
	ResponseEvent string `msgpack:"responseEvent,omitempty"`
	ErrorEvent    string `msgpack:"errorEvent,omitempty"`

	// Payload carried by request/response/error frames.
	Data any `msgpack:"data,omitempty"`

	// Event fields.
	Event string `msgpack:"event,omitempty"`
	As    string `msgpack:"as,omitempty"`

	Extra map[string]any `msgpack:"-"`
}

// knownFields lists the struct-tagged keys above, used to split unknown
// keys into Extra on decode.
var knownFields = map[string]struct{}{
	"kind": {}, "action": {}, "responseEvent": {}, "errorEvent": {},
	"data": {}, "event": {}, "as": {},
}

// Encode returns the MessagePack encoding of f.
func Encode(f Frame) ([]byte, error) {
	m := map[string]any{
		"kind": string(f.Kind),
	}
	if f.Action != "" {
		m["action"] = f.Action
	}
	if f.ResponseEvent != "" {
		m["responseEvent"] = f.ResponseEvent
	}
	if f.ErrorEvent != "" {
		m["errorEvent"] = f.ErrorEvent
	}
	if f.Data != nil {
		m["data"] = f.Data
	}
	if f.Event != "" {
		m["event"] = f.Event
	}
	if f.As != "" {
		m["as"] = f.As
	}
	for k, v := range f.Extra {
		if _, known := knownFields[k]; known {
			continue
		}
		m[k] = v
	}

	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode frame: %w", err)
	}
	return b, nil
}

// Decode parses a MessagePack-encoded buffer into a Frame. It rejects
// inputs that are not binary MessagePack maps.
func Decode(b []byte) (Frame, error) {
	if len(b) == 0 {
		return Frame{}, fmt.Errorf("wire: decode frame: empty buffer")
	}

	var m map[string]any
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: not a binary map: %w", err)
	}

	f := Frame{Extra: make(map[string]any)}
	for k, v := range m {
		switch k {
		case "kind":
			s, _ := v.(string)
			f.Kind = Kind(s)
		case "action":
			f.Action, _ = v.(string)
		case "responseEvent":
			f.ResponseEvent, _ = v.(string)
		case "errorEvent":
			f.ErrorEvent, _ = v.(string)
		case "data":
			f.Data = v
		case "event":
			f.Event, _ = v.(string)
		case "as":
			f.As, _ = v.(string)
		default:
			f.Extra[k] = v
		}
	}
	if len(f.Extra) == 0 {
		f.Extra = nil
	}
	return f, nil
}
