package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyStorage_OrderAndReplace(t *testing.T) {
	s := NewPropertyStorage(
		NewDeadProperty(NamespaceCustom, "b", "1"),
		NewDeadProperty(NamespaceCustom, "a", "2"),
	)
	s.Attach(NewDeadProperty(NamespaceCustom, "b", "3"))
	s.Attach(NewDeadProperty(NamespaceDAV, "displayname", "x"))

	var names []string
	for _, p := range s.Properties() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"b", "a", "displayname"}, names)

	p, ok := s.Get("b", NamespaceCustom)
	require.True(t, ok)
	assert.Equal(t, "3", p.(*DeadProperty).Value)
	assert.Equal(t, 3, s.Count())
}

func TestPropertyStorage_NamespacesAreDistinct(t *testing.T) {
	s := NewPropertyStorage(
		NewDeadProperty("urn:one", "name", "1"),
		NewDeadProperty("urn:two", "name", "2"),
	)
	assert.Equal(t, 2, s.Count())
	assert.True(t, s.Remove("name", "urn:one"))
	assert.False(t, s.Remove("name", "urn:one"))
	assert.False(t, s.Contains("name", "urn:one"))
	assert.True(t, s.Contains("name", "urn:two"))
}

func TestPropertyStorage_CloneIsDeep(t *testing.T) {
	orig := NewPropertyStorage(NewLockInfoProperty(TokenInfo{Token: "t1"}))
	c := orig.Clone()

	p, _ := c.Get(PropLockInfo, NamespaceLock)
	p.(*LockInfoProperty).RemoveToken("t1")

	p, _ = orig.Get(PropLockInfo, NamespaceLock)
	assert.Equal(t, []string{"t1"}, p.(*LockInfoProperty).Tokens())
}

func TestPropertyStorage_NilReads(t *testing.T) {
	var s *PropertyStorage
	assert.False(t, s.Contains("a", NamespaceCustom))
	assert.Zero(t, s.Count())
	assert.Nil(t, s.Properties())
	assert.Zero(t, s.Clone().Count())
}

func TestFlaggedPropertyStorage(t *testing.T) {
	s := NewFlaggedPropertyStorage()
	s.Attach(NewDeadProperty(NamespaceCustom, "a", "1"), PatchSet)
	s.Attach(NewPropertyName(NamespaceCustom, "b"), PatchRemove)
	s.Attach(NewDeadProperty(NamespaceCustom, "a", "2"), PatchRemove)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Property.Name())
	assert.Equal(t, PatchRemove, entries[0].Operation)
	assert.Equal(t, PatchRemove, entries[1].Operation)

	assert.True(t, s.Remove("a", NamespaceCustom))
	_, ok := s.Operation("a", NamespaceCustom)
	assert.False(t, ok)
	assert.Equal(t, "remove", PatchRemove.String())
}

func TestIsProtectedProperty(t *testing.T) {
	assert.True(t, IsProtectedProperty(NamespaceDAV, PropLockDiscovery))
	assert.True(t, IsProtectedProperty(NamespaceLock, PropLockInfo))
	assert.False(t, IsProtectedProperty(NamespaceDAV, "displayname"))
	assert.False(t, IsProtectedProperty(NamespaceCustom, "getetag"))
	assert.Equal(t, "DAV:lockdiscovery", PropertyKey{Namespace: NamespaceDAV, Name: PropLockDiscovery}.String())
}
