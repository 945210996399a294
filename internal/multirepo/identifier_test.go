package multirepo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIdentifier(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want IdentifierKind
	}{
		{"numeric id", "42", IdentifierNumeric},
		{"negative numeric id", "-7", IdentifierNumeric},
		{"absolute path", "/srv/repos/widget", IdentifierPath},
		{"relative path", "repos/widget", IdentifierPath},
		{"https url", "https://github.com/acme/widget", IdentifierURL},
		{"https url with .git suffix", "https://github.com/acme/widget.git", IdentifierURL},
		{"ssh-style scp url is a path", "git@github.com:acme/widget.git", IdentifierPath},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyIdentifier(tc.in))
		})
	}
}

func TestCanonicalKey_PassesThroughNonURLIdentifiers(t *testing.T) {
	assert.Equal(t, "42", CanonicalKey("42"))
	assert.Equal(t, "/srv/repos/widget", CanonicalKey("/srv/repos/widget"))
}

func TestCanonicalKey_NormalizesEquivalentURLForms(t *testing.T) {
	base := CanonicalKey("https://github.com/acme/widget")

	assert.Equal(t, base, CanonicalKey("https://github.com/acme/widget.git"))
	assert.Equal(t, base, CanonicalKey("https://github.com/acme/widget/"))
	assert.Equal(t, base, CanonicalKey("https://github.com/acme/widget.git/"))
}

func TestCanonicalKey_DistinctURLsProduceDistinctKeys(t *testing.T) {
	assert.NotEqual(t,
		CanonicalKey("https://github.com/acme/widget"),
		CanonicalKey("https://github.com/acme/gadget"))
}

func TestCanonicalKey_URLKeyHasStablePrefix(t *testing.T) {
	key := CanonicalKey("https://github.com/acme/widget")
	assert.True(t, len(key) > len("url:"))
	assert.Equal(t, "url:", key[:4])
}
