package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/wayfare-ai/llmgateway/internal/orchestrator"
	"github.com/wayfare-ai/llmgateway/internal/protocol"
)

// handleProtocol builds the handler for one client protocol's endpoint.
// All three endpoints share the same shape: decode the JSON body, flatten
// the headers, hand off to the orchestrator, then render either a unary
// JSON response or an SSE stream.
func (s *Server) handleProtocol(source protocol.Name) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
			return
		}

		outcome, err := s.orch.Handle(r.Context(), source, flattenHeaders(r.Header), body)
		if err != nil {
			log.Printf("orchestrator error: %v", err)
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal error")
			return
		}

		for k, v := range outcome.Headers {
			w.Header().Set(k, v)
		}

		if outcome.IsStream {
			s.writeStream(w, r, outcome)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(outcome.StatusCode)
		if err := json.NewEncoder(w).Encode(outcome.Body); err != nil {
			log.Printf("response write error: %v", err)
		}
	}
}

// writeStream renders an Outcome's event channel as an SSE response. The
// status line goes out before the first event, so a pre-first-chunk
// upstream failure still arrives as a 200 with a protocol-appropriate
// error event in the body: once any bytes have left, the request is
// committed to this response.
func (s *Server) writeStream(w http.ResponseWriter, r *http.Request, outcome *orchestrator.Outcome) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for item := range outcome.Stream {
		if item.Err != nil {
			log.Printf("stream error: %v", item.Err)
			return
		}
		if err := protocol.WriteSSE(w, item.Event); err != nil {
			// Client went away; keep draining so the orchestrator's
			// cancellation-shielded log write still runs.
			log.Printf("stream write error: %v", err)
			continue
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// flattenHeaders lowercases header names and keeps each header's first
// value — the form internal/rules' "headers.<name>" paths and the
// orchestrator's redaction both expect.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		out[strings.ToLower(k)] = vs[0]
	}
	return out
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}
