package timeline

import "encoding/base64"

// IsImage reports whether body is an embedded image: it must survive a
// base64 decode/encode round trip unchanged. Empty bodies are text.
func IsImage(body string) bool {
	if body == "" {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return false
	}
	return base64.StdEncoding.EncodeToString(raw) == body
}
