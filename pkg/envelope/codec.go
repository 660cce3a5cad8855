package envelope

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DecodeError reports a frame that is not a well-formed envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode envelope: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

type wireEnvelope struct {
	Type        *string         `json:"type"`
	RequestCard RequestCard     `json:"requestCard"`
	Message     string          `json:"message"`
	Content     json.RawMessage `json:"content"`
	Timestamp   *string         `json:"timestamp"`
}

// Decode parses one frame. type and timestamp are required; an unrecognized
// type decodes to TypeUnknown rather than failing.
func Decode(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed json", Err: errors.WithStack(err)}
	}
	if w.Type == nil || strings.TrimSpace(*w.Type) == "" {
		return Envelope{}, &DecodeError{Reason: "missing type"}
	}
	if w.Timestamp == nil || strings.TrimSpace(*w.Timestamp) == "" {
		return Envelope{}, &DecodeError{Reason: "missing timestamp"}
	}
	ts, err := time.Parse(time.RFC3339Nano, *w.Timestamp)
	if err != nil {
		return Envelope{}, &DecodeError{Reason: "bad timestamp", Err: errors.Wrapf(err, "parse %q", *w.Timestamp)}
	}

	t, _ := parseType(*w.Type)
	return Envelope{
		Type:        t,
		RawType:     *w.Type,
		RequestCard: w.RequestCard,
		Message:     w.Message,
		Content:     normalizeContent(w.Content),
		Timestamp:   ts,
	}, nil
}

// Encode renders e as a JSON frame. Unknown envelopes keep their original tag.
func Encode(e Envelope) []byte {
	tag := string(e.Type)
	if e.Type == TypeUnknown && e.RawType != "" {
		tag = e.RawType
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	content := normalizeContent(e.Content)
	if content != nil && !json.Valid(content) {
		content = nil
	}
	out := struct {
		Type        string          `json:"type"`
		RequestCard RequestCard     `json:"requestCard"`
		Message     string          `json:"message"`
		Content     json.RawMessage `json:"content"`
		Timestamp   string          `json:"timestamp"`
	}{
		Type:        tag,
		RequestCard: e.RequestCard,
		Message:     e.Message,
		Content:     content,
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
	}
	// Every field is a string, a struct of strings, or validated raw JSON,
	// so marshaling cannot fail.
	b, _ := json.Marshal(out)
	return b
}

// MarshalJSON lets envelopes be embedded in other JSON documents.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return Encode(e), nil
}

// UnmarshalJSON applies Decode.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	d, err := Decode(b)
	if err != nil {
		return err
	}
	*e = d
	return nil
}
