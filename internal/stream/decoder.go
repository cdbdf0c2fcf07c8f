package stream

import (
	"strings"
	"unicode/utf8"
)

// Decoder converts a byte stream to text incrementally. A multi-byte
// UTF-8 sequence split across chunk boundaries is held back until its
// remaining bytes arrive, so it is reassembled exactly once and never
// replaced with a substitution character.
type Decoder struct {
	pending []byte
}

// Decode returns the text decodable from the pending bytes plus p,
// retaining any incomplete trailing sequence for the next call.
func (d *Decoder) Decode(p []byte) string {
	b := p
	if len(d.pending) > 0 {
		b = append(d.pending, p...)
		d.pending = nil
	}

	cut := len(b)
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		c := b[i]
		if c < utf8.RuneSelf {
			break
		}
		if c&0xC0 == 0x80 {
			// continuation byte, keep scanning for the leading byte
			continue
		}
		if i+runeLen(c) > len(b) {
			cut = i
		}
		break
	}

	if cut < len(b) {
		d.pending = append([]byte(nil), b[cut:]...)
		b = b[:cut]
	}
	// Only complete sequences remain; anything still invalid here is
	// garbage from upstream, not a chunk-boundary artifact.
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

// Flush decodes whatever trailing bytes remain. An incomplete sequence at
// true end-of-stream is invalid by definition and decodes to the
// replacement character.
func (d *Decoder) Flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	s := strings.ToValidUTF8(string(d.pending), string(utf8.RuneError))
	d.pending = nil
	return s
}

// runeLen returns the declared length of a UTF-8 sequence from its
// leading byte, 1 for invalid leading bytes.
func runeLen(c byte) int {
	switch {
	case c&0xE0 == 0xC0:
		return 2
	case c&0xF0 == 0xE0:
		return 3
	case c&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
