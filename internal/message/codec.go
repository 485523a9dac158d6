package message

import (
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors for the codec.
var (
	// ErrMalformedFrame is returned when a buffer of concatenated JSON
	// objects does not end in a closing brace.
	ErrMalformedFrame = errors.New("malformed frame: trailing object does not end in '}'")

	// ErrMalformedJSON is returned when a split frame does not decode as
	// valid JSON.
	ErrMalformedJSON = errors.New("malformed JSON object")

	// ErrUnknownMessageType is returned when a decoded object's msg_type
	// is not one of the six known message kinds.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// SplitFrames splits a buffer containing the unfragmented concatenation of
// one or more JSON objects into the individual object strings, in order.
//
// Splitting happens at every "}{" boundary: the boundary falls between the
// closing brace and the next object's opening brace. The final object must
// end in '}'; otherwise ErrMalformedFrame is returned. This assumes no
// payload value contains a literal "}{" substring, which holds because the
// protocol's payloads are shallow tuples and scalars.
func SplitFrames(buf string) ([]string, error) {
	if buf == "" {
		return nil, nil
	}

	var frames []string
	for {
		split := strings.Index(buf, "}{")
		if split == -1 {
			if buf[len(buf)-1] != '}' {
				return nil, ErrMalformedFrame
			}
			frames = append(frames, buf)
			return frames, nil
		}

		head := buf[:split+1]
		if head[len(head)-1] != '}' {
			return nil, ErrMalformedFrame
		}
		frames = append(frames, head)
		buf = buf[split+1:]
	}
}

// DecodeFrames splits buf into individual JSON objects and decodes each
// into a Message, in order. A malformed frame aborts the whole batch; a
// malformed or unrecognized object is skipped, and the first such error is
// returned alongside every message that decoded successfully, so the
// Receiver can log-and-drop the offender while still delivering the rest.
func DecodeFrames(buf string) ([]Message, error) {
	frames, err := SplitFrames(buf)
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(frames))
	var firstErr error
	for _, f := range frames {
		var m Message
		if err := m.UnmarshalJSON([]byte(f)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, firstErr
}
