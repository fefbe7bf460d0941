package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResourceID(t *testing.T) {
	id, err := ParseResourceID("abc123@platformA@fed1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id.Nonce)
	assert.Equal(t, "platformA", id.PlatformID)
	assert.Equal(t, "fed1", id.FederationID)
	assert.Equal(t, "abc123@platformA", id.AggregationID())
	assert.Equal(t, "abc123@platformA@fed1", id.String())
}

func TestParseResourceIDRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{
		"",
		"abc123",
		"abc123@platformA",
		"abc123@platformA@fed1@extra",
		"@platformA@fed1",
		"abc123@@fed1",
		"abc123@platformA@",
	} {
		_, err := ParseResourceID(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestFederatedResourceIdentityParts(t *testing.T) {
	fr := &FederatedResource{AggregationID: "nonce1@platformB"}
	assert.Equal(t, "platformB", fr.PlatformID())
	assert.Equal(t, "nonce1", fr.Nonce())

	id := fr.ResourceIDIn("fed2")
	assert.Equal(t, "nonce1@platformB@fed2", id.String())
}
