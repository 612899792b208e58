package protocol

import "strings"

// ParseDataURL splits a "data:<media-type>;base64,<payload>" string into
// its media type and base64 payload. ok is false for anything that isn't a
// base64 data URL (including plain http(s) URLs, which callers should
// treat as ImageSourceURL instead).
func ParseDataURL(s string) (mediaType, base64Data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(s, prefix) {
		return "", "", false
	}
	rest := s[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	header := rest[:comma]
	payload := rest[comma+1:]

	header = strings.TrimSuffix(header, ";base64")
	if !strings.HasSuffix(rest[:comma], ";base64") {
		return "", "", false
	}
	return header, payload, true
}

// BuildDataURL reassembles a data URL from media type and base64 payload.
func BuildDataURL(mediaType, base64Data string) string {
	return "data:" + mediaType + ";base64," + base64Data
}
