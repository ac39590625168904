package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"+31612345678":                "+31612345678",
		"31612345678":                 "+31612345678",
		"31612345678@s.whatsapp.net":  "+31612345678",
		"31612345678@c.us":            "+31612345678",
		"+31 6 1234 5678":             "+31612345678",
		"+31-6-1234-5678":             "+31612345678",
		"(+31) 6 12345678":            "+31612345678",
		"++31612345678":               "+31612345678",
		"+31612345678@s.whatsapp.net": "+31612345678",
		"":                            "",
		"no digits here":              "",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeAddress(input), "input %q", input)
	}
}

func TestNormalizeAddressIdempotent(t *testing.T) {
	inputs := []string{
		"+31612345678",
		"31612345678@s.whatsapp.net",
		"+1 (415) 555-0100",
		"0031 6 1234-5678",
		"15551234567@c.us",
		"",
	}
	for _, input := range inputs {
		once := NormalizeAddress(input)
		assert.Equal(t, once, NormalizeAddress(once), "input %q", input)
	}
}

func TestAddressJIDRoundTrip(t *testing.T) {
	assert.Equal(t, "31612345678@s.whatsapp.net", AddressToJID("+31 6 1234 5678"))
	assert.Equal(t, "+31612345678", AddressFromJID("31612345678@s.whatsapp.net"))
	assert.Equal(t, "", AddressToJID("nope"))
}
