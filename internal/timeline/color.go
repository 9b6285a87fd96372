package timeline

import (
	"fmt"
	"regexp"
	"unicode/utf16"
)

// conversationPattern matches "endpointA[/resource]-endpointB" where each
// endpoint is a bus address (local@domain). The resource is at most eight
// characters without '-', so every '-' after it belongs to endpointB.
var conversationPattern = regexp.MustCompile(`([^/\s]+@[^/\s-]+)(?:/[^/\s-]{0,8})?-([^/\s]+@[^/\s-]+)`)

// CanonicalConversation reduces a conversation id to "endpointA,endpointB"
// when it has two endpoints, and returns it unchanged otherwise
func CanonicalConversation(conversationID string) string {
	m := conversationPattern.FindStringSubmatch(conversationID)
	if m == nil {
		return conversationID
	}
	return m[1] + "," + m[2]
}

// Hue hashes the canonical conversation id into [0, 360)
func Hue(conversationID string) int {
	var hash int32
	for _, c := range utf16.Encode([]rune(CanonicalConversation(conversationID))) {
		hash = int32(c) + ((hash << 5) - hash)
	}
	return ((int(hash) % 360) + 360) % 360
}

// Color renders the conversation hue as an hsl() color string. It depends on
// the conversation id alone, so it is safe to recompute after a reconnect.
func Color(conversationID string) string {
	return fmt.Sprintf("hsl(%d, 70%%, 70%%)", Hue(conversationID))
}
