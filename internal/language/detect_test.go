package language

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chattiavato/edge-relay/internal/sanitize"
)

// fakeClassifier records whether it was invoked and replies with a fixed
// answer or error.
type fakeClassifier struct {
	reply  string
	err    error
	called bool
	sample string
}

func (f *fakeClassifier) Classify(_ context.Context, sample string) (string, error) {
	f.called = true
	f.sample = sample
	return f.reply, f.err
}

func userMsg(text string) []sanitize.Message {
	return []sanitize.Message{{Role: "user", Content: text}}
}

func TestDetect_DeclaredHintWinsOverScript(t *testing.T) {
	fc := &fakeClassifier{}
	got := Detect(context.Background(), fc, userMsg("Привет, как дела?"), sanitize.Meta{LangISO2: "es"})
	assert.Equal(t, "es", got)
	assert.False(t, fc.called)
}

func TestDetect_AutoHintIsIgnored(t *testing.T) {
	got := Detect(context.Background(), nil, userMsg("Привет"), sanitize.Meta{LangISO2: "auto"})
	assert.Equal(t, "ru", got)
}

func TestDetect_UndHintIsIgnored(t *testing.T) {
	got := Detect(context.Background(), nil, userMsg("こんにちは"), sanitize.Meta{LangISO2: "und"})
	assert.Equal(t, "ja", got)
}

func TestDetect_KeywordsDecideWithoutClassifierCall(t *testing.T) {
	fc := &fakeClassifier{reply: "fr"}
	got := Detect(context.Background(), fc, userMsg("hola, necesito una cosa"), sanitize.Meta{})
	assert.Equal(t, "es", got)
	assert.False(t, fc.called)
}

func TestDetect_SingleKeywordIsNotEnough(t *testing.T) {
	fc := &fakeClassifier{reply: "es"}
	got := Detect(context.Background(), fc, userMsg("hola can you help me with this thing"), sanitize.Meta{})
	assert.Equal(t, "es", got)
	assert.True(t, fc.called)
}

func TestDetect_ClassifierErrorFallsBackToUndetermined(t *testing.T) {
	fc := &fakeClassifier{err: errors.New("model unavailable")}
	got := Detect(context.Background(), fc, userMsg("completely neutral words here"), sanitize.Meta{})
	assert.Equal(t, Undetermined, got)
	assert.True(t, fc.called)
}

func TestDetect_NilClassifierEndsChain(t *testing.T) {
	got := Detect(context.Background(), nil, userMsg("completely neutral words here"), sanitize.Meta{})
	assert.Equal(t, Undetermined, got)
}

func TestDetect_ShortTextSkipsClassifier(t *testing.T) {
	fc := &fakeClassifier{reply: "en"}
	got := Detect(context.Background(), fc, userMsg("ok"), sanitize.Meta{})
	assert.Equal(t, Undetermined, got)
	assert.False(t, fc.called)
}

func TestDetect_ClassifierSampleIsBounded(t *testing.T) {
	long := make([]byte, 0, 600)
	for i := 0; i < 600; i++ {
		long = append(long, 'a')
	}
	fc := &fakeClassifier{reply: "en"}
	Detect(context.Background(), fc, userMsg(string(long)), sanitize.Meta{})
	assert.True(t, fc.called)
	assert.LessOrEqual(t, len(fc.sample), classifySampleChars)
}

func TestHeuristic_ScriptRanges(t *testing.T) {
	cases := map[string]string{
		"こんにちは":      "ja",
		"안녕하세요":      "ko",
		"你好":         "zh",
		"Привет":     "ru",
		"مرحبا":      "ar",
		"שלום":       "he",
		"Καλημέρα":   "el",
		"नमस्ते":     "hi",
		"สวัสดี":     "th",
		"plain text": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Heuristic(in), "input %q", in)
	}
}

func TestHeuristic_Diacritics(t *testing.T) {
	assert.Equal(t, "es", Heuristic("mañana"))
	assert.Equal(t, "pt", Heuristic("não sei"))
	assert.Equal(t, "de", Heuristic("schöne"))
}

func TestParseCode(t *testing.T) {
	assert.Equal(t, "es", ParseCode("es"))
	assert.Equal(t, "es", ParseCode("  ES \n"))
	assert.Equal(t, "und", ParseCode("und"))
	assert.Equal(t, "fr", ParseCode("language: fr."))
	assert.Equal(t, "", ParseCode("unknown"))
	assert.Equal(t, "", ParseCode(""))
}
