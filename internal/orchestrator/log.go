package orchestrator

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// responsePreviewLimit bounds the unary response body recorded in the
// request log, mirroring streamPreviewLimit's streaming counterpart.
const responsePreviewLimit = 4000

// previewJSON serializes body for the request log's response_body field,
// truncating long bodies rather than storing them unbounded.
func previewJSON(body map[string]any) string {
	if body == nil {
		return ""
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	if len(raw) > responsePreviewLimit {
		return string(raw[:responsePreviewLimit])
	}
	return string(raw)
}

// redactedHeaderNames lists the request headers masked before the log
// record is persisted — anything that carries the caller's credential.
var redactedHeaderNames = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
}

// redactHeaders returns a copy of headers with credential-bearing values
// replaced by a fixed placeholder, keyed case-insensitively.
func redactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if redactedHeaderNames[strings.ToLower(k)] {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}

// apiKeyID resolves the request log's api_key_id from whichever credential
// header the client sent. Full API-key management (issuing, revoking,
// mapping a key to an account) belongs to an external auth layer; this is
// the minimal best-effort identifier its key-to-id mapping would replace.
func apiKeyID(headers map[string]string) string {
	if v, ok := headers["x-api-key"]; ok && v != "" {
		return v
	}
	if v, ok := headers["authorization"]; ok {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return ""
}

// traceID returns the client-supplied trace id when present (a reverse
// proxy or client SDK may already stamp one), otherwise mints a fresh
// random one so every request log record is individually addressable.
func traceID(headers map[string]string) string {
	for _, name := range []string{"x-trace-id", "x-request-id", "traceparent"} {
		if v, ok := headers[name]; ok && v != "" {
			return v
		}
	}
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(buf[:])
}
