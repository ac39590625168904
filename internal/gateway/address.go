package gateway

import (
	"strings"
	"unicode"
)

// jidSuffixes are gateway-specific address suffixes stripped during
// normalization.
var jidSuffixes = []string{"@s.whatsapp.net", "@c.us", "@g.us"}

// NormalizeAddress converts a destination address to international format:
// gateway JID suffixes removed, formatting characters dropped, and a single
// leading "+" enforced. Normalizing an already-normalized address is a no-op.
func NormalizeAddress(address string) string {
	s := strings.TrimSpace(strings.ToLower(address))
	for _, suffix := range jidSuffixes {
		s = strings.TrimSuffix(s, suffix)
	}

	var digits strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	return "+" + digits.String()
}

// AddressToJID renders a normalized address as a gateway JID.
func AddressToJID(address string) string {
	normalized := NormalizeAddress(address)
	if normalized == "" {
		return ""
	}
	return strings.TrimPrefix(normalized, "+") + "@s.whatsapp.net"
}

// AddressFromJID extracts the normalized address from an inbound gateway JID.
func AddressFromJID(jid string) string {
	return NormalizeAddress(jid)
}
