// Package sanitize converts arbitrary caller-supplied text into safe,
// bounded text before it reaches any downstream model call.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	// MaxMessageChars bounds a single message's content after cleaning.
	MaxMessageChars = 1000
	// MaxMessages bounds a conversation to the most recent N messages.
	MaxMessages = 30

	// RedactionMarker replaces message content that matched the
	// malicious-pattern scan. Partially cleaned text is never forwarded.
	RedactionMarker = "[REDACTED: blocked suspicious content]"
)

var (
	reScriptStyle   = regexp.MustCompile(`(?is)<\s*(script|style)\b[^>]*>.*?<\s*/\s*(script|style)\s*>`)
	reDangerOpen    = regexp.MustCompile(`(?i)<\s*(iframe|object|embed|link|meta|base|form)\b[^>]*>`)
	reDangerClose   = regexp.MustCompile(`(?i)<\s*/\s*(iframe|object|embed|link|meta|base|form)\s*>`)
	reJavascriptURI = regexp.MustCompile(`(?i)\bjavascript\s*:`)
	reVbscriptURI   = regexp.MustCompile(`(?i)\bvbscript\s*:`)
	reDataHTML      = regexp.MustCompile(`(?i)\bdata\s*:\s*text/html\b`)
	reEventQuoted   = regexp.MustCompile(`(?is)\bon\w+\s*=\s*["'].*?["']`)
	reEventBare     = regexp.MustCompile(`(?i)\bon\w+\s*=\s*[^\s>]+`)
)

// maliciousNeedles is the authoritative forward-at-all scan. It runs on
// already-sanitized text; a hit means the content is replaced wholesale.
var maliciousNeedles = []string{
	"<script",
	"document.cookie",
	"localstorage.",
	"sessionstorage.",
	"onerror=",
	"onload=",
	"eval(",
	"new function",
	"javascript:",
	"vbscript:",
	"data:text/html",
	"base64,",
}

// Message is a single sanitized conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Meta holds the advisory request fields that survive allow-list
// projection. Unknown caller fields are dropped, never passed through.
type Meta struct {
	LangISO2       string `json:"lang_iso2,omitempty"`
	Tone           string `json:"tone,omitempty"`
	Model          string `json:"model,omitempty"`
	TranslateTo    string `json:"translate_to,omitempty"`
	WantEmbeddings bool   `json:"want_embeddings,omitempty"`
}

// CleanText drops NUL and control runes outside tab/LF/CR, keeps printable
// ASCII and code points >= 160, and trims surrounding whitespace.
func CleanText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		ok := r == '\t' || r == '\n' || r == '\r' || (r >= 32 && r <= 126) || r >= 160
		if ok {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// StripMarkup removes script/style bodies, high-risk elements, dangerous
// URI schemes, and inline event handlers, then truncates to the
// per-message bound.
func StripMarkup(s string) string {
	t := strings.ReplaceAll(s, "\x00", "")
	t = strings.ReplaceAll(t, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")

	t = reScriptStyle.ReplaceAllString(t, "")
	t = reDangerOpen.ReplaceAllString(t, "")
	t = reDangerClose.ReplaceAllString(t, "")
	t = reJavascriptURI.ReplaceAllString(t, "")
	t = reVbscriptURI.ReplaceAllString(t, "")
	t = reDataHTML.ReplaceAllString(t, "")
	t = reEventQuoted.ReplaceAllString(t, "")
	t = reEventBare.ReplaceAllString(t, "")

	if len(t) > MaxMessageChars {
		t = truncate(t, MaxMessageChars)
	}
	return strings.TrimSpace(t)
}

// Content is the full per-field pipeline: clean, strip, clean again.
// The second clean guards against stripping re-introducing disallowed
// bytes. Content(Content(x)) == Content(x).
func Content(s string) string {
	return CleanText(StripMarkup(CleanText(s)))
}

// LooksMalicious reports whether sanitized text still matches one of the
// fixed suspicious substrings.
func LooksMalicious(s string) bool {
	t := strings.ToLower(s)
	for _, needle := range maliciousNeedles {
		if strings.Contains(t, needle) {
			return true
		}
	}
	return false
}

// Messages normalizes a caller-supplied message list: keeps the most
// recent MaxMessages, restricts roles to user/assistant, sanitizes
// content, drops empties, and replaces malicious content with the
// redaction marker. Caller-supplied chronological order is preserved.
func Messages(in []Message) []Message {
	if len(in) > MaxMessages {
		in = in[len(in)-MaxMessages:]
	}
	out := make([]Message, 0, len(in))
	for _, m := range in {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != "user" && role != "assistant" {
			continue
		}
		content := Content(m.Content)
		if content == "" {
			continue
		}
		if len(content) > MaxMessageChars {
			content = truncate(content, MaxMessageChars)
		}
		if LooksMalicious(content) {
			out = append(out, Message{Role: role, Content: RedactionMarker})
			continue
		}
		out = append(out, Message{Role: role, Content: content})
	}
	return out
}

// MetaFields projects raw advisory fields onto the Meta allow-list,
// sanitizing each independently.
func MetaFields(raw map[string]any) Meta {
	var out Meta
	// Kept as declared (lowercased) so the detector can still see the
	// "auto" and "und" sentinels; normalized to two letters at use sites.
	out.LangISO2 = strings.ToLower(CleanText(str(raw["lang_iso2"])))
	out.Tone = CleanText(str(raw["tone"]))
	out.Model = CleanText(str(raw["model"]))
	out.TranslateTo = NormalizeISO2(str(raw["translate_to"]))
	if b, ok := raw["want_embeddings"].(bool); ok {
		out.WantEmbeddings = b
	}
	return out
}

// NormalizeISO2 lowercases a language code, drops any region subtag, and
// keeps at most two letters.
func NormalizeISO2(code string) string {
	s := strings.ToLower(CleanText(code))
	if s == "" {
		return ""
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 2 {
		s = s[:2]
	}
	return s
}

// LastUserText returns the content of the most recent user message.
func LastUserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func str(v any) string {
	s, _ := v.(string)
	return s
}
