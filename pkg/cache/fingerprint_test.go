package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceio/sluice/pkg/types"
)

func TestFingerprintWhitespaceAndCaseInsensitive(t *testing.T) {
	a := Fingerprint(&types.Request{Query: "Hello   World", Model: "gpt-3.5-turbo"})
	b := Fingerprint(&types.Request{Query: "  hello world ", Model: "gpt-3.5-turbo"})
	assert.Equal(t, a, b)
}

func TestFingerprintModelSensitive(t *testing.T) {
	a := Fingerprint(&types.Request{Query: "hello", Model: "gpt-3.5-turbo"})
	b := Fingerprint(&types.Request{Query: "hello", Model: "gpt-4"})
	assert.NotEqual(t, a, b)
}

func TestFingerprintProviderCaseInsensitive(t *testing.T) {
	a := Fingerprint(&types.Request{Query: "hello", Model: "m", Provider: "Fake"})
	b := Fingerprint(&types.Request{Query: "hello", Model: "m", Provider: "fake"})
	assert.Equal(t, a, b)
}

func TestFingerprintParamsOrderIndependent(t *testing.T) {
	a := Fingerprint(&types.Request{Query: "q", Model: "m", Params: map[string]string{"temperature": "0.7", "top_p": "0.9"}})
	b := Fingerprint(&types.Request{Query: "q", Model: "m", Params: map[string]string{"top_p": "0.9", "temperature": "0.7"}})
	assert.Equal(t, a, b)

	c := Fingerprint(&types.Request{Query: "q", Model: "m", Params: map[string]string{"temperature": "0.2"}})
	assert.NotEqual(t, a, c)
}

func TestFingerprintIgnoresIdentityFields(t *testing.T) {
	a := Fingerprint(&types.Request{Query: "q", Model: "m", UserID: "u1", ThreadID: "t1"})
	b := Fingerprint(&types.Request{Query: "q", Model: "m", UserID: "u2", ThreadID: "t2"})
	assert.Equal(t, a, b)
}
