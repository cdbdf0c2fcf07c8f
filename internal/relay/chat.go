package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	apierrors "github.com/chattiavato/edge-relay/internal/errors"
	"github.com/chattiavato/edge-relay/internal/httputil"
	"github.com/chattiavato/edge-relay/internal/language"
	"github.com/chattiavato/edge-relay/internal/sanitize"
	"github.com/chattiavato/edge-relay/internal/stream"
	"github.com/chattiavato/edge-relay/internal/upstream"
)

// chatBody is the inbound chat payload before sanitization.
type chatBody struct {
	Messages []sanitize.Message `json:"messages"`
	Meta     map[string]any     `json:"meta"`
}

// handleChat runs the full pipeline: identity (done in authorize),
// sanitization, language detection, safety gate, upstream call, bridge.
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}

	raw, ok := h.readJSONBody(w, r)
	if !ok {
		return
	}
	var body chatBody
	if err := json.Unmarshal(raw, &body); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, apierrors.ErrMalformedBody.Error())
		return
	}

	msgs := sanitize.Messages(body.Messages)
	if len(msgs) == 0 {
		apierrors.WriteJSONError(w, http.StatusBadRequest, "messages[] required")
		return
	}
	meta := sanitize.MetaFields(body.Meta)

	h.runChat(w, r, msgs, meta)
}

// runChat is the shared tail of the chat and voice-chat pipelines:
// detection, safety gate, upstream call, stream bridging.
func (h *handler) runChat(w http.ResponseWriter, r *http.Request, msgs []sanitize.Message, meta sanitize.Meta) {
	ctx := r.Context()

	lang := language.Detect(ctx, h.classifier, msgs, meta)
	if meta.LangISO2 == "" || meta.LangISO2 == "auto" || meta.LangISO2 == language.Undetermined {
		meta.LangISO2 = lang
	}

	verdict, err := h.guard.Check(ctx, msgs)
	if err != nil {
		apierrors.WriteJSONError(w, http.StatusBadGateway, "safety check unavailable")
		return
	}
	if !verdict.Safe {
		apierrors.WriteJSON(w, http.StatusForbidden, map[string]any{
			"error":      "Blocked by safety filter",
			"categories": verdict.Categories,
		})
		return
	}

	resp, err := h.upstream.Send(ctx, &upstream.ChatRequest{Messages: msgs, Meta: meta})
	if err != nil {
		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) {
			apierrors.WriteJSON(w, http.StatusBadGateway, map[string]any{
				"error":  "Upstream error",
				"status": statusErr.Status,
				"detail": statusErr.Excerpt,
			})
			return
		}
		apierrors.WriteJSONError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}

	w.Header().Set(HeaderLang, lang)
	upstream.Passthrough(w.Header(), resp.Header)
	httputil.SetSSEHeaders(w)

	fw := httputil.NewFrameWriter(w)
	if err := fw.Comment("ok"); err != nil {
		resp.Body.Close()
		return
	}
	// Headers are committed: bridge failures terminate the stream with an
	// error frame instead of a structured response.
	_ = stream.Bridge(ctx, resp.Body, fw.WriteFrame)
}
