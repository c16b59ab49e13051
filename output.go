package nbexec

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Output is a notebook-schema output record (stream, display_data,
// execute_result or error). Only the fields relevant to the record's
// OutputType are populated.
type Output struct {
	OutputType     string         `json:"output_type"`
	Name           string         `json:"name,omitempty"`
	Text           StreamText     `json:"text,omitzero"`
	Data           map[string]any `json:"data,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
	EName          string         `json:"ename,omitempty"`
	EValue         string         `json:"evalue,omitempty"`
	Traceback      []string       `json:"traceback,omitempty"`
}

// OutputFromMsg converts an iopub message into an output record.
// It returns false for message types that do not produce an output
// (status, clear_output, update_display_data, …).
func OutputFromMsg(msg Message) (Output, bool) {
	c := msg.Content
	switch msg.Header.MsgType {
	case "stream":
		return Output{
			OutputType: "stream",
			Name:       contentString(c, "name"),
			Text:       NewStreamText(contentString(c, "text")),
		}, true
	case "display_data":
		return Output{
			OutputType: "display_data",
			Data:       contentMap(c, "data"),
			Metadata:   contentMap(c, "metadata"),
		}, true
	case "execute_result":
		return Output{
			OutputType:     "execute_result",
			Data:           contentMap(c, "data"),
			Metadata:       contentMap(c, "metadata"),
			ExecutionCount: contentInt(c, "execution_count"),
		}, true
	case "error":
		return Output{
			OutputType: "error",
			EName:      contentString(c, "ename"),
			EValue:     contentString(c, "evalue"),
			Traceback:  contentStrings(c, "traceback"),
		}, true
	}
	return Output{}, false
}

func contentString(c map[string]any, key string) string {
	s, _ := c[key].(string)
	return s
}

func contentMap(c map[string]any, key string) map[string]any {
	m, _ := c[key].(map[string]any)
	return m
}

func contentBool(c map[string]any, key string) bool {
	b, _ := c[key].(bool)
	return b
}

func contentInt(c map[string]any, key string) *int {
	switch v := c[key].(type) {
	case int:
		return &v
	case float64:
		n := int(v)
		return &n
	}
	return nil
}

func contentStrings(c map[string]any, key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// coalesceStream appends a stream output to a cell output list, merging
// it into the previous record when that record is a stream with the
// same name. A trailing newline at the chunk boundary is absorbed, and
// carriage-return/backspace rewriting is applied before any merged
// segment is committed. Must run inside a document transaction.
func coalesceStream(outputs OutputList, output Output) {
	text := output.Text.String()
	if strings.HasSuffix(text, "\n") {
		text = text[:len(text)-1]
	}

	n := outputs.Len()
	if n == 0 || outputs.At(n-1).OutputType != "stream" || outputs.At(n-1).Name != output.Name {
		output.Text = NewStreamText(HandleCarriageReturn(HandleBackspace(text)))
		outputs.Append(output)
		return
	}

	last := outputs.At(n - 1)
	old := last.Text.Last()
	combined := old + text
	if strings.ContainsAny(combined, "\r\b") {
		suffix := ""
		if strings.HasSuffix(combined, "\r") {
			suffix = "\r"
			combined = combined[:len(combined)-1]
		}
		last.Text.ReplaceLast(HandleCarriageReturn(HandleBackspace(combined)) + suffix)
	} else {
		last.Text.Push(text)
	}
	outputs.Set(n-1, last)
}

// errorSummary joins "ename: evalue" lines from the error outputs.
func errorSummary(outputs []Output) string {
	var lines []string
	for _, o := range outputs {
		if o.OutputType == "error" {
			lines = append(lines, o.EName+": "+o.EValue)
		}
	}
	return strings.Join(lines, "\n")
}

// HandleBackspace simulates backspaces: each \b removes the previously
// emitted grapheme cluster, unless that cluster ends a line or the
// buffer is empty. Text without \b is returned unchanged.
func HandleBackspace(s string) string {
	if !strings.ContainsRune(s, '\b') {
		return s
	}
	var clusters []string
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		cl := g.Str()
		if cl == "\b" {
			if n := len(clusters); n > 0 && !strings.HasSuffix(clusters[n-1], "\n") && clusters[n-1] != "\r" {
				clusters = clusters[:n-1]
			}
			continue
		}
		clusters = append(clusters, cl)
	}
	return strings.Join(clusters, "")
}

// HandleCarriageReturn renders text the way a terminal emulator would:
// within a line, \r rewinds the write cursor to column zero and
// subsequent characters overwrite prior ones in place. Text without \r
// is returned unchanged.
func HandleCarriageReturn(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	lines := strings.Split(s, "\n")
	for li, line := range lines {
		if !strings.ContainsRune(line, '\r') {
			continue
		}
		runes := []rune(line)
		var result []rune
		i := 0
		for i < len(runes) {
			if runes[i] != '\r' {
				result = append(result, runes[i])
				i++
				continue
			}
			i++
			col := 0
			for i < len(runes) && runes[i] != '\r' {
				if col < len(result) {
					result[col] = runes[i]
				} else {
					result = append(result, runes[i])
				}
				col++
				i++
			}
		}
		lines[li] = string(result)
	}
	return strings.Join(lines, "\n")
}
