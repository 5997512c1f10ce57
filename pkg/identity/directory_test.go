package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_GroupMembers(t *testing.T) {
	seed := map[string][]string{"reviewers": {"alice", "bob"}}
	dir := NewStatic(seed, nil)

	seed["reviewers"][0] = "mallory"

	members, err := dir.GroupMembers(t.Context(), "reviewers")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)

	members[0] = "changed"

	again, err := dir.GroupMembers(t.Context(), "reviewers")
	require.NoError(t, err)
	assert.Equal(t, "alice", again[0])

	_, err = dir.GroupMembers(t.Context(), "ghosts")
	require.ErrorIs(t, err, ErrGroupNotFound)

	dir.SetGroupMembers("ghosts", "casper")

	members, err = dir.GroupMembers(t.Context(), "ghosts")
	require.NoError(t, err)
	assert.Equal(t, []string{"casper"}, members)
}

func TestStatic_IsAccountUser(t *testing.T) {
	dir := NewStatic(nil, map[string][]string{"acme": {"alice"}})

	ok, err := dir.IsAccountUser(t.Context(), "acme", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.IsAccountUser(t.Context(), "acme", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	dir.AddAccountUser("acme", "bob")
	dir.AddAccountUser("acme", "bob")

	ok, err = dir.IsAccountUser(t.Context(), "acme", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.IsAccountUser(t.Context(), "globex", "anyone")
	require.NoError(t, err)
	assert.True(t, ok)
}
