// Package language determines a two-letter ISO 639-1 code for a
// conversation using a priority chain: caller hint, script-range
// heuristics, Latin keyword/diacritic heuristics, and finally a bounded
// classification call to a general-purpose model.
package language

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/chattiavato/edge-relay/internal/sanitize"
)

// Undetermined is the sentinel returned when no signal decides a language.
const Undetermined = "und"

const (
	// classifySampleChars bounds the text sent to the fallback classifier.
	classifySampleChars = 240
	// classifyMinChars below which the fallback is not worth a model call.
	classifyMinChars = 8
	// classifyTimeout bounds the fallback round-trip so a stalled
	// classifier cannot hold the request open.
	classifyTimeout = 10 * time.Second
)

// Classifier is the fallback model call: given a text sample, return a
// two-letter code or Undetermined.
type Classifier interface {
	Classify(ctx context.Context, sample string) (string, error)
}

// scriptRange maps a Unicode block to a language.
type scriptRange struct {
	lo, hi rune
	iso2   string
}

var scriptRanges = []scriptRange{
	{0x3040, 0x30FF, "ja"}, // Hiragana + Katakana
	{0xAC00, 0xD7AF, "ko"}, // Hangul
	{0x4E00, 0x9FFF, "zh"}, // CJK ideographs
	{0x0400, 0x04FF, "ru"}, // Cyrillic
	{0x0600, 0x06FF, "ar"},
	{0x0590, 0x05FF, "he"},
	{0x0370, 0x03FF, "el"},
	{0x0900, 0x097F, "hi"}, // Devanagari
	{0x0E00, 0x0E7F, "th"},
}

// latinHint pairs a diacritic pattern with a keyword list. A language is
// selected when its diacritic regex matches or at least two keywords
// appear in the lower-cased text.
type latinHint struct {
	iso2      string
	diacritic *regexp.Regexp
	keywords  []string
}

var latinHints = []latinHint{
	{"es", regexp.MustCompile(`[ñáéíóúü¿¡]`), []string{
		"hola", "gracias", "por favor", "buenos", "buenas", "necesito",
		"ayuda", "quiero", "donde", "qué", "cuánto", "porque",
	}},
	{"pt", regexp.MustCompile(`[ãõç]`), []string{
		"olá", "ola", "obrigado", "obrigada", "por favor", "você",
		"vocês", "não", "nao", "tudo bem",
	}},
	{"fr", regexp.MustCompile(`[àâçéèêëîïôûùüÿœ]`), []string{
		"bonjour", "salut", "merci", "s'il", "s’il", "vous",
		"au revoir", "ça va", "comment", "aujourd",
	}},
	{"de", regexp.MustCompile(`[äöüß]`), []string{
		"hallo", "danke", "bitte", "und", "ich", "nicht", "wie geht", "heute",
	}},
	{"it", nil, []string{
		"ciao", "grazie", "per favore", "come va", "oggi", "buongiorno", "buonasera",
	}},
	{"id", nil, []string{
		"halo", "terima kasih", "tolong", "selamat", "bagaimana", "hari ini",
	}},
}

// Detect runs the priority chain. It is pure given its inputs apart from
// the optional fallback call, which is bounded by classifyTimeout.
// classifier may be nil, in which case the chain ends at the heuristics.
func Detect(ctx context.Context, classifier Classifier, msgs []sanitize.Message, meta sanitize.Meta) string {
	declared := strings.ToLower(strings.TrimSpace(meta.LangISO2))
	if declared != "" && declared != "auto" && declared != Undetermined {
		if code := sanitize.NormalizeISO2(declared); code != "" {
			return code
		}
	}

	lastUser := sanitize.LastUserText(msgs)
	if code := Heuristic(lastUser); code != "" {
		return code
	}

	if classifier == nil {
		return Undetermined
	}
	sample := sanitize.Content(lastUser)
	if len(sample) > classifySampleChars {
		sample = sample[:classifySampleChars]
	}
	if len(sample) < classifyMinChars {
		return Undetermined
	}

	cctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()
	guess, err := classifier.Classify(cctx, sample)
	if err != nil {
		return Undetermined
	}
	if code := ParseCode(guess); code != "" && code != Undetermined {
		return code
	}
	return Undetermined
}

// Heuristic applies the script-range and Latin keyword/diacritic checks,
// returning "" when neither decides.
func Heuristic(text string) string {
	if text == "" {
		return ""
	}

	for _, sr := range scriptRanges {
		for _, r := range text {
			if r >= sr.lo && r <= sr.hi {
				return sr.iso2
			}
		}
	}

	t := strings.ToLower(text)
	for _, h := range latinHints {
		if h.diacritic != nil && h.diacritic.MatchString(t) {
			return h.iso2
		}
		hits := 0
		for _, kw := range h.keywords {
			if strings.Contains(t, kw) {
				hits++
				if hits >= 2 {
					return h.iso2
				}
			}
		}
	}
	return ""
}

var reCode = regexp.MustCompile(`\b([a-z]{2}|und)\b`)

// ParseCode extracts the first two-letter token (or the undetermined
// sentinel) from a classifier reply.
func ParseCode(reply string) string {
	raw := strings.ToLower(strings.TrimSpace(reply))
	m := reCode.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}
