// Package message defines the wire Message exchanged between Maekawa nodes
// and the codec that frames concatenated JSON objects read off a stream.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Type identifies one of the six message kinds the protocol exchanges.
type Type string

const (
	Request Type = "REQUEST"
	Grant   Type = "GRANT"
	Release Type = "RELEASE"
	Failed  Type = "FAILED"
	Inquire Type = "INQUIRE"
	Yield   Type = "YIELD"
)

func (t Type) valid() bool {
	switch t {
	case Request, Grant, Release, Failed, Inquire, Yield:
		return true
	default:
		return false
	}
}

// Priority is the total-ordering key (ts, src): smaller ts wins, ties
// broken by smaller src.
type Priority struct {
	TS  int64
	Src int
}

// Less reports whether p has strictly higher priority than other.
func (p Priority) Less(other Priority) bool {
	if p.TS != other.TS {
		return p.TS < other.TS
	}
	return p.Src < other.Src
}

func (p Priority) String() string {
	return fmt.Sprintf("(ts=%d,src=%d)", p.TS, p.Src)
}

// Message is the envelope exchanged between nodes. Data carries the
// contending (ts, src) pair for INQUIRE and is nil for every other type.
type Message struct {
	Type Type
	Src  int
	Dest int
	TS   int64
	Data *Priority
}

// wireMessage mirrors Message's JSON shape: data is a two-element
// [ts, src] array for INQUIRE, null otherwise.
type wireMessage struct {
	MsgType Type      `json:"msg_type"`
	Src     int       `json:"src"`
	Dest    int       `json:"dest"`
	TS      int64     `json:"ts"`
	Data    *[2]int64 `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		MsgType: m.Type,
		Src:     m.Src,
		Dest:    m.Dest,
		TS:      m.TS,
	}
	if m.Data != nil {
		w.Data = &[2]int64{m.Data.TS, int64(m.Data.Src)}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return errors.Wrap(ErrMalformedJSON, err.Error())
	}
	if !w.MsgType.valid() {
		return errors.Wrapf(ErrUnknownMessageType, "%q", w.MsgType)
	}
	m.Type = w.MsgType
	m.Src = w.Src
	m.Dest = w.Dest
	m.TS = w.TS
	if w.Data != nil {
		m.Data = &Priority{TS: w.Data[0], Src: int(w.Data[1])}
	} else {
		m.Data = nil
	}
	return nil
}

// Encode serializes a single Message to its compact JSON form.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode message")
	}
	return b, nil
}
