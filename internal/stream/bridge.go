// Package stream bridges an upstream response body of unknown framing
// (either concatenated JSON objects or an SSE event stream) into a
// normalized sequence of frames, without buffering the whole response
// and without losing or reordering content.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"github.com/chattiavato/edge-relay/internal/extract"
)

// FrameKind distinguishes the three outgoing frame types.
type FrameKind int

const (
	FrameData FrameKind = iota
	FrameDone
	FrameError
)

// Frame is the unit of output to the caller. Data payloads are forwarded
// exactly as extracted, never re-encoded or trimmed.
type Frame struct {
	Kind    FrameKind
	Payload string
}

// Sink receives each frame as soon as it is available. Bridge never
// issues the next upstream read before the sink returns.
type Sink func(Frame) error

// DoneSentinel is the reserved payload signaling stream termination.
const DoneSentinel = "[DONE]"

const (
	// Runaway-buffer valve for malformed raw input with no JSON in sight.
	maxBufferChars = 1_000_000
	keepTailChars  = 100_000

	readChunkSize = 4096
)

var reSSEData = regexp.MustCompile(`(^|\n)data:`)

// deltaPaths is the priority order for probing a text delta out of an
// upstream JSON object.
var deltaPaths = []extract.Path{
	{"response"},
	{"result", "response"},
	{"response", "response"},
}

// Bridge consumes body incrementally and emits normalized frames to the
// sink. Exactly one done or error frame terminates the sequence, and no
// data frame follows it. The body is closed on every exit path. After
// ctx is cancelled no further frames are emitted.
func Bridge(ctx context.Context, body io.ReadCloser, emit Sink) error {
	defer body.Close()

	var dec Decoder
	buf := ""
	chunk := make([]byte, readChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := body.Read(chunk)
		if n > 0 {
			buf += dec.Decode(chunk[:n])
			buf = normalizeNewlines(buf)

			var terminated bool
			var err error
			buf, terminated, err = drain(buf, emit)
			if err != nil {
				_ = emit(Frame{Kind: FrameError, Payload: "stream_error"})
				return err
			}
			if terminated {
				return nil
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = emit(Frame{Kind: FrameError, Payload: "stream_error"})
			return readErr
		}
	}

	// Trailing decoder state is flushed but, matching the per-chunk
	// contract, an incomplete trailing object is not emitted.
	_ = dec.Flush()
	return emit(Frame{Kind: FrameDone, Payload: DoneSentinel})
}

// drain processes whatever complete units the buffer holds and returns
// the remainder. terminated is true once the done sentinel was seen; any
// bytes after it are discarded.
func drain(buf string, emit Sink) (rest string, terminated bool, err error) {
	looksSSE := reSSEData.MatchString(buf) && strings.Contains(buf, "\n\n")
	if looksSSE {
		return drainSSE(buf, emit)
	}

	if len(buf) > maxBufferChars && !strings.Contains(buf, "{") {
		buf = buf[len(buf)-keepTailChars:]
	}

	objects, rest := extractObjects(buf)
	for _, raw := range objects {
		var v any
		if jsonErr := json.Unmarshal([]byte(raw), &v); jsonErr != nil {
			continue
		}
		if delta, ok := extract.FirstNonEmpty(v, deltaPaths...); ok {
			if err := emit(Frame{Kind: FrameData, Payload: delta}); err != nil {
				return rest, false, err
			}
		}
	}
	return rest, false, nil
}

// drainSSE extracts blank-line-delimited event blocks. Data lines within
// a block are joined by LF, preserving embedded newlines exactly; the
// payload is trimmed for comparison only, never for forwarding.
func drainSSE(buf string, emit Sink) (rest string, terminated bool, err error) {
	for {
		idx := strings.Index(buf, "\n\n")
		if idx < 0 {
			return buf, false, nil
		}
		block := buf[:idx]
		buf = buf[idx+2:]

		data, ok := blockData(block)
		if !ok {
			continue
		}

		dataTrim := strings.TrimSpace(data)
		if dataTrim == DoneSentinel {
			return "", true, emit(Frame{Kind: FrameDone, Payload: DoneSentinel})
		}

		payload := data
		if strings.HasPrefix(dataTrim, "{") || strings.HasPrefix(dataTrim, "[") {
			var v any
			if jsonErr := json.Unmarshal([]byte(dataTrim), &v); jsonErr == nil {
				delta, _ := extract.FirstNonEmpty(v, deltaPaths...)
				payload = delta
			}
		}
		if payload == "" {
			continue
		}
		if err := emit(Frame{Kind: FrameData, Payload: payload}); err != nil {
			return buf, false, err
		}
	}
}

// blockData concatenates the data-marker lines of one SSE block.
func blockData(block string) (string, bool) {
	var dataLines []string
	for _, line := range strings.Split(block, "\n") {
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, rest)
		}
	}
	if dataLines == nil {
		return "", false
	}
	return strings.Join(dataLines, "\n"), true
}

// extractObjects scans for balanced-brace JSON object boundaries in a
// single pass, treating braces inside quoted strings (including escaped
// quotes) as non-structural. The trailing incomplete object, if any, is
// returned as rest.
func extractObjects(buf string) (objects []string, rest string) {
	start := -1
	depth := 0
	inStr := false
	esc := false

	for i := 0; i < len(buf); i++ {
		ch := buf[i]

		if start == -1 {
			if ch == '{' {
				start = i
				depth = 1
				inStr = false
				esc = false
			}
			continue
		}

		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}

		switch ch {
		case '"':
			inStr = true
			continue
		case '{':
			depth++
		case '}':
			depth--
		}

		if depth == 0 {
			objects = append(objects, buf[start:i+1])
			start = -1
		}
	}

	if start == -1 {
		return objects, ""
	}
	return objects, buf[start:]
}

// normalizeNewlines folds CRLF and lone CR into LF so line-oriented
// parsing sees one consistent form.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
