package nbexec

import (
	"encoding/json"
	"strings"
)

// StreamText is the text accumulator of a stream output. A record fresh
// from the kernel holds a single segment; coalescing in the mirrored
// cell appends further segments. It marshals as a plain string while it
// holds one segment and as an array of strings afterwards, matching the
// two shapes the notebook schema allows.
type StreamText struct {
	segments []string
}

// NewStreamText returns a StreamText holding text as its only segment.
func NewStreamText(text string) StreamText {
	return StreamText{segments: []string{text}}
}

// Segments returns the accumulated segments.
func (t StreamText) Segments() []string {
	return t.segments
}

// Last returns the last segment, or "" when empty.
func (t StreamText) Last() string {
	if len(t.segments) == 0 {
		return ""
	}
	return t.segments[len(t.segments)-1]
}

// Push appends a segment.
func (t *StreamText) Push(text string) {
	t.segments = append(t.segments, text)
}

// ReplaceLast replaces the last segment, or pushes when empty.
func (t *StreamText) ReplaceLast(text string) {
	if len(t.segments) == 0 {
		t.segments = []string{text}
		return
	}
	t.segments[len(t.segments)-1] = text
}

// String returns the joined text.
func (t StreamText) String() string {
	return strings.Join(t.segments, "")
}

// IsZero reports whether no segment was ever stored. Used by the
// omitzero JSON option so non-stream outputs carry no text key.
func (t StreamText) IsZero() bool {
	return t.segments == nil
}

func (t StreamText) MarshalJSON() ([]byte, error) {
	if len(t.segments) == 1 {
		return json.Marshal(t.segments[0])
	}
	return json.Marshal(t.segments)
}

func (t *StreamText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.segments = []string{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	t.segments = list
	return nil
}
