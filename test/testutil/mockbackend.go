// Package testutil provides httptest doubles for the relay's backends.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
)

// MockUpstream simulates the inference backend. Mode selects the body
// framing: "json" emits concatenated raw JSON objects, "sse" emits
// data-framed events ending with the [DONE] sentinel.
type MockUpstream struct {
	Server *httptest.Server

	Mode   string
	Deltas []string
	// Status forces a non-2xx reply when set.
	Status int
	// Headers are set on every reply (for passthrough checks).
	Headers map[string]string

	// LastRequest captures the most recent request body parsed.
	LastRequest map[string]any
	// LastHeader captures the most recent request headers.
	LastHeader http.Header

	Calls atomic.Int32
}

// NewMockUpstream creates and starts a mock inference backend.
func NewMockUpstream(mode string, deltas ...string) *MockUpstream {
	m := &MockUpstream{Mode: mode, Deltas: deltas}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockUpstream) Close()      { m.Server.Close() }
func (m *MockUpstream) URL() string { return m.Server.URL }

func (m *MockUpstream) handle(w http.ResponseWriter, r *http.Request) {
	m.Calls.Add(1)
	m.LastHeader = r.Header.Clone()

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	m.LastRequest = body

	for k, v := range m.Headers {
		w.Header().Set(k, v)
	}
	if m.Status != 0 {
		w.WriteHeader(m.Status)
		fmt.Fprint(w, `{"error":"backend failure"}`)
		return
	}

	flusher, hasFlusher := w.(http.Flusher)
	if m.Mode == "sse" {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range m.Deltas {
			fmt.Fprintf(w, "data: {\"response\":%q}\n\n", d)
			if hasFlusher {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	for _, d := range m.Deltas {
		fmt.Fprintf(w, "{\"response\":%q}", d)
		if hasFlusher {
			flusher.Flush()
		}
	}
}

// MockGuard simulates the content-safety classifier.
type MockGuard struct {
	Server *httptest.Server

	Safe       bool
	Categories []string
	// Status forces a non-2xx reply when set.
	Status int

	Calls atomic.Int32
}

// NewMockGuard creates and starts a mock classifier replying with the
// given verdict.
func NewMockGuard(safe bool, categories ...string) *MockGuard {
	m := &MockGuard{Safe: safe, Categories: categories}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockGuard) Close()      { m.Server.Close() }
func (m *MockGuard) URL() string { return m.Server.URL }

func (m *MockGuard) handle(w http.ResponseWriter, _ *http.Request) {
	m.Calls.Add(1)
	if m.Status != 0 {
		w.WriteHeader(m.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"safe":       m.Safe,
		"categories": m.Categories,
	})
}

// MockSTT simulates a transcription backend.
type MockSTT struct {
	Server *httptest.Server

	Transcript string
	Status     int

	Calls atomic.Int32
}

// NewMockSTT creates and starts a mock transcription backend.
func NewMockSTT(transcript string) *MockSTT {
	m := &MockSTT{Transcript: transcript}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockSTT) Close()      { m.Server.Close() }
func (m *MockSTT) URL() string { return m.Server.URL }

func (m *MockSTT) handle(w http.ResponseWriter, _ *http.Request) {
	m.Calls.Add(1)
	if m.Status != 0 {
		w.WriteHeader(m.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"text": m.Transcript})
}

// MockTTS simulates a synthesis voice replying with raw audio.
type MockTTS struct {
	Server *httptest.Server

	Audio []byte

	Calls atomic.Int32
}

// NewMockTTS creates and starts a mock voice backend.
func NewMockTTS(audio []byte) *MockTTS {
	m := &MockTTS{Audio: audio}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockTTS) Close()      { m.Server.Close() }
func (m *MockTTS) URL() string { return m.Server.URL }

func (m *MockTTS) handle(w http.ResponseWriter, _ *http.Request) {
	m.Calls.Add(1)
	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write(m.Audio)
}
