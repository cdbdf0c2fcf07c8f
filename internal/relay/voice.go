package relay

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	apierrors "github.com/chattiavato/edge-relay/internal/errors"
	"github.com/chattiavato/edge-relay/internal/language"
	"github.com/chattiavato/edge-relay/internal/sanitize"
	"github.com/chattiavato/edge-relay/internal/voice"
)

// voiceTimeoutSec is the hint surfaced to callers for voice replies.
const voiceTimeoutSec = "120"

// minAudioBytes below which an upload is rejected as empty.
const minAudioBytes = 16

// voiceJSONBody is the JSON intake shape: base64 or byte-array audio,
// optionally with prior conversation and metadata.
type voiceJSONBody struct {
	Messages []sanitize.Message `json:"messages"`
	Meta     map[string]any     `json:"meta"`
	AudioB64 string             `json:"audio_b64"`
	Audio    []int              `json:"audio"`
}

// handleVoice ingests audio in one of three wire shapes, transcribes it,
// and either returns the transcript (mode=stt) or resumes the chat
// pipeline with the transcript as the new user message (mode=chat).
func (h *handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}

	mode := strings.ToLower(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = "stt"
	}

	audio, priorMessages, meta, ok := h.readAudio(w, r)
	if !ok {
		return
	}

	transcriptRaw, err := h.stt.Transcribe(r.Context(), audio)
	if err != nil {
		apierrors.WriteJSON(w, http.StatusBadGateway, map[string]any{
			"error":  "Transcription unavailable",
			"detail": err.Error(),
		})
		return
	}

	transcript := sanitize.Content(transcriptRaw)
	if transcript == "" {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "no transcription produced")
		return
	}
	if sanitize.LooksMalicious(transcript) {
		apierrors.WriteJSONError(w, http.StatusForbidden, "blocked by security sanitizer")
		return
	}

	lang := language.Detect(r.Context(), h.classifier,
		[]sanitize.Message{{Role: "user", Content: transcript}}, meta)

	w.Header().Set(HeaderSTTLang, lang)
	w.Header().Set(HeaderVoiceTimeout, voiceTimeoutSec)

	if mode == "stt" {
		apierrors.WriteJSON(w, http.StatusOK, map[string]any{
			"transcript":        transcript,
			"lang_iso2":         lang,
			"voice_timeout_sec": 120,
		})
		return
	}

	msgs := append(priorMessages, sanitize.Message{Role: "user", Content: transcript})
	if meta.LangISO2 == "" || meta.LangISO2 == "auto" || meta.LangISO2 == language.Undetermined {
		meta.LangISO2 = lang
	}
	h.runChat(w, r, msgs, meta)
}

// readAudio converges the three intake shapes onto one capped byte
// buffer. A false return means a response was written.
func (h *handler) readAudio(w http.ResponseWriter, r *http.Request) ([]byte, []sanitize.Message, sanitize.Meta, bool) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))

	switch {
	case strings.Contains(ct, "application/json"):
		return h.readAudioJSON(w, r)
	case strings.Contains(ct, "multipart/form-data"):
		audio, ok := h.readAudioMultipart(w, r)
		return audio, nil, sanitize.Meta{}, ok
	default:
		audio, ok := h.readAudioBinary(w, r)
		return audio, nil, sanitize.Meta{}, ok
	}
}

func (h *handler) readAudioJSON(w http.ResponseWriter, r *http.Request) ([]byte, []sanitize.Message, sanitize.Meta, bool) {
	var body voiceJSONBody
	// The base64 cap dominates here; allow headroom for messages/meta.
	raw, err := io.ReadAll(io.LimitReader(r.Body, voice.MaxAudioB64Chars+MaxBodyChars+1))
	if err != nil || len(raw) == 0 {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "empty JSON body")
		return nil, nil, sanitize.Meta{}, false
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, apierrors.ErrMalformedBody.Error())
		return nil, nil, sanitize.Meta{}, false
	}

	prior := sanitize.Messages(body.Messages)
	meta := sanitize.MetaFields(body.Meta)

	switch {
	case body.AudioB64 != "":
		if len(body.AudioB64) > voice.MaxAudioB64Chars {
			apierrors.WriteJSONError(w, http.StatusRequestEntityTooLarge, "audio_b64 too large; send binary audio instead")
			return nil, nil, sanitize.Meta{}, false
		}
		audio, err := base64.StdEncoding.DecodeString(body.AudioB64)
		if err != nil {
			apierrors.WriteJSONError(w, http.StatusBadRequest, "invalid audio_b64")
			return nil, nil, sanitize.Meta{}, false
		}
		if len(audio) > voice.MaxAudioBytes {
			apierrors.WriteJSONError(w, http.StatusRequestEntityTooLarge, "audio too large")
			return nil, nil, sanitize.Meta{}, false
		}
		return audio, prior, meta, true

	case len(body.Audio) > 0:
		if len(body.Audio) > voice.MaxAudioBytes {
			apierrors.WriteJSONError(w, http.StatusRequestEntityTooLarge, "audio too large")
			return nil, nil, sanitize.Meta{}, false
		}
		audio := make([]byte, len(body.Audio))
		for i, v := range body.Audio {
			audio[i] = byte(v & 0xFF)
		}
		return audio, prior, meta, true

	default:
		apierrors.WriteJSONError(w, http.StatusBadRequest, "missing audio (audio_b64 or audio[])")
		return nil, nil, sanitize.Meta{}, false
	}
}

func (h *handler) readAudioMultipart(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if err := r.ParseMultipartForm(voice.MaxAudioBytes); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "invalid multipart/form-data")
		return nil, false
	}

	var file io.ReadCloser
	for _, field := range []string{"audio", "file", "blob"} {
		f, _, err := r.FormFile(field)
		if err == nil {
			file = f
			break
		}
	}
	if file == nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "missing audio file field (expected: audio|file|blob)")
		return nil, false
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, voice.MaxAudioBytes+1))
	if err != nil || len(audio) < minAudioBytes {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "empty audio")
		return nil, false
	}
	if len(audio) > voice.MaxAudioBytes {
		apierrors.WriteJSONError(w, http.StatusRequestEntityTooLarge, "audio too large")
		return nil, false
	}
	return audio, true
}

func (h *handler) readAudioBinary(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	audio, err := io.ReadAll(io.LimitReader(r.Body, voice.MaxAudioBytes+1))
	if err != nil || len(audio) < minAudioBytes {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "empty audio")
		return nil, false
	}
	if len(audio) > voice.MaxAudioBytes {
		apierrors.WriteJSONError(w, http.StatusRequestEntityTooLarge, "audio too large")
		return nil, false
	}
	return audio, true
}

// ttsBody is the synthesis request payload.
type ttsBody struct {
	Text     string `json:"text"`
	LangISO2 string `json:"lang_iso2"`
}

// handleTTS synthesizes speech for sanitized text via the voice
// fallback chain.
func (h *handler) handleTTS(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}

	raw, ok := h.readJSONBody(w, r)
	if !ok {
		return
	}
	var body ttsBody
	if err := json.Unmarshal(raw, &body); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, apierrors.ErrMalformedBody.Error())
		return
	}

	text := sanitize.Content(body.Text)
	if text == "" {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "text required")
		return
	}
	if sanitize.LooksMalicious(text) {
		apierrors.WriteJSONError(w, http.StatusForbidden, "blocked by security sanitizer")
		return
	}

	lang := sanitize.NormalizeISO2(body.LangISO2)
	if lang == "" {
		lang = "en"
	}
	w.Header().Set(HeaderTTSLang, lang)

	out, err := h.tts.Synthesize(r.Context(), text, lang)
	if err != nil {
		apierrors.WriteJSON(w, http.StatusBadGateway, map[string]any{
			"error":  "Synthesis unavailable",
			"detail": err.Error(),
		})
		return
	}

	ctOut := out.ContentType
	if ctOut == "" {
		ctOut = "audio/mpeg"
	}
	w.Header().Set("Content-Type", ctOut)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Bytes)
}
