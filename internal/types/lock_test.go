package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDepth(t *testing.T) {
	tests := map[string]Depth{"0": DepthZero, "1": DepthOne, "Infinity": DepthInfinity, " infinity ": DepthInfinity}
	for in, expected := range tests {
		d, err := ParseDepth(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, d)
		assert.NotEmpty(t, d.String())
	}

	_, err := ParseDepth("2")
	assert.Error(t, err)
}

func TestLockInfoProperty(t *testing.T) {
	info := NewLockInfoProperty(
		TokenInfo{Token: "opaquelocktoken:a"},
		TokenInfo{Token: "opaquelocktoken:b", LockBase: "/col"},
	)

	ti, ok := info.TokenInfo("<opaquelocktoken:b>")
	require.True(t, ok)
	assert.False(t, ti.IsLockRoot())
	assert.Equal(t, "/col", ti.LockBase)

	assert.True(t, info.RemoveToken(" <opaquelocktoken:a> "))
	assert.False(t, info.RemoveToken("opaquelocktoken:a"))
	assert.Equal(t, []string{"opaquelocktoken:b"}, info.Tokens())
}

func TestLockDiscoveryProperty(t *testing.T) {
	disc := NewLockDiscoveryProperty(
		ActiveLock{Token: "t1", Scope: LockScopeShared, Depth: DepthZero, Root: "/a"},
		ActiveLock{Token: "t2", Scope: LockScopeShared, Depth: DepthZero, Root: "/a"},
	)
	c := disc.Clone().(*LockDiscoveryProperty)
	assert.True(t, c.RemoveToken("t1"))

	assert.Equal(t, []string{"t1", "t2"}, disc.Tokens())
	assert.Equal(t, []string{"t2"}, c.Tokens())
	_, ok := c.ActiveLock("t1")
	assert.False(t, ok)
}

func TestSameToken(t *testing.T) {
	assert.True(t, SameToken("<opaquelocktoken:x>", "opaquelocktoken:x"))
	assert.False(t, SameToken("opaquelocktoken:x", "opaquelocktoken:y"))
	assert.Equal(t, "", NormalizeToken(" <> "))
}

func TestPropertyCodec(t *testing.T) {
	tests := []Property{
		NewLockInfoProperty(TokenInfo{Token: "t", LockBase: "/col"}),
		NewLockDiscoveryProperty(ActiveLock{
			Token: "t", Scope: LockScopeExclusive, Depth: DepthInfinity,
			Owner: "alice", Timeout: time.Hour, Root: "/col",
		}),
		NewDeadProperty(NamespaceCustom, "color", "<x:v xmlns:x=\"urn:x\">red</x:v>"),
	}

	for _, prop := range tests {
		t.Run(KeyOf(prop).String(), func(t *testing.T) {
			encoded, err := EncodeProperty(prop)
			require.NoError(t, err)
			decoded, err := DecodeProperty(prop.Namespace(), prop.Name(), encoded)
			require.NoError(t, err)
			assert.Equal(t, prop, decoded)
		})
	}

	_, err := DecodeProperty(NamespaceLock, PropLockInfo, "{broken")
	assert.Error(t, err)
}
