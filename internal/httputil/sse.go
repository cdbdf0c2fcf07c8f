package httputil

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/chattiavato/edge-relay/internal/stream"
)

// SetSSEHeaders sets the standard headers for a Server-Sent Events response.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("X-Accel-Buffering", "no")
}

// FrameWriter serializes bridge frames onto an SSE response, flushing
// after every frame so each delta reaches the caller before the next
// upstream read is issued.
type FrameWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewFrameWriter wraps w. Flush is a no-op when the underlying writer
// does not implement http.Flusher.
func NewFrameWriter(w http.ResponseWriter) *FrameWriter {
	fw := &FrameWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

// Comment writes an SSE comment line, used to open the stream.
func (fw *FrameWriter) Comment(text string) error {
	if _, err := fmt.Fprintf(fw.w, ": %s\n\n", text); err != nil {
		return err
	}
	fw.flush()
	return nil
}

// WriteFrame emits one frame. A data payload is serialized as one
// data-marker line per embedded line followed by exactly one blank line;
// the payload itself is never altered.
func (fw *FrameWriter) WriteFrame(f stream.Frame) error {
	var err error
	switch f.Kind {
	case stream.FrameData:
		var b strings.Builder
		for _, line := range strings.Split(f.Payload, "\n") {
			b.WriteString("data:")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		_, err = fmt.Fprint(fw.w, b.String())
	case stream.FrameDone:
		_, err = fmt.Fprintf(fw.w, "event: done\ndata: %s\n\n", stream.DoneSentinel)
	case stream.FrameError:
		_, err = fmt.Fprintf(fw.w, "event: error\ndata: %s\n\n", f.Payload)
	}
	if err != nil {
		return err
	}
	fw.flush()
	return nil
}

func (fw *FrameWriter) flush() {
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
}
