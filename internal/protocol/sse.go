package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	ginsse "github.com/gin-contrib/sse"
)

// Accumulator reassembles a line-oriented SSE byte stream into RawEvents,
// tracking both the "data: " lines every protocol sends and the "event: "
// line Anthropic sends and OpenAI never does. Supplier clients feed it one
// upstream line at a time; it reports a complete RawEvent on the blank
// line that terminates each SSE block.
type Accumulator struct {
	eventName string
	dataLines []string
}

// Feed consumes one line (without its trailing newline) of upstream SSE
// text. It returns a RawEvent and ok=true when that line completed an SSE
// block, or an error if the accumulated data payload was not valid JSON
// and was not the literal "[DONE]" sentinel.
func (a *Accumulator) Feed(line string) (RawEvent, bool, error) {
	line = strings.TrimRight(line, "\r")

	switch {
	case line == "":
		if a.eventName == "" && len(a.dataLines) == 0 {
			return RawEvent{}, false, nil
		}
		ev, err := a.build()
		a.eventName = ""
		a.dataLines = nil
		return ev, true, err
	case strings.HasPrefix(line, ":"):
		// Comment / keepalive line — ignore.
		return RawEvent{}, false, nil
	case strings.HasPrefix(line, "event:"):
		a.eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		a.dataLines = append(a.dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}
	return RawEvent{}, false, nil
}

func (a *Accumulator) build() (RawEvent, error) {
	payload := strings.Join(a.dataLines, "\n")
	if payload == "[DONE]" {
		return RawEvent{EventName: a.eventName, Done: true}, nil
	}
	if strings.TrimSpace(payload) == "" {
		return RawEvent{EventName: a.eventName}, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return RawEvent{}, err
	}
	return RawEvent{EventName: a.eventName, Data: data}, nil
}

// WriteSSE renders one RawEvent onto w in standard SSE wire format,
// delegating the framing to gin-contrib/sse's Encode rather than
// hand-rolling the data:/event: lines.
func WriteSSE(w io.Writer, ev RawEvent) error {
	if ev.Done {
		return ginsse.Encode(w, ginsse.Event{Data: "[DONE]"})
	}
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	return ginsse.Encode(w, ginsse.Event{Event: ev.EventName, Data: json.RawMessage(payload)})
}

// EncodeRawEvent renders ev exactly as WriteSSE would, returning the bytes
// instead of writing them — used when a caller needs to buffer or re-frame
// the wire bytes (e.g. logging a truncated stream preview).
func EncodeRawEvent(ev RawEvent) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteSSE(&buf, ev); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
