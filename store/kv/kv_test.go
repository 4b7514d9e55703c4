package kv

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	_, ok := s.Get("missing")
	assert.False(t, ok)

	require.NoError(t, s.Set("onboarding_completed", "true"))
	v, ok := s.Get("onboarding_completed")
	require.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.json")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("identity", "u1"))
	require.NoError(t, s.Set("onboarding_completed", "true"))

	reopened, err := NewStore(path)
	require.NoError(t, err)
	v, ok := reopened.Get("identity")
	require.True(t, ok)
	assert.Equal(t, "u1", v)
	v, ok = reopened.Get("onboarding_completed")
	require.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestStoreDeleteKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.json")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	require.NoError(t, s.Set("c", "3"))

	require.NoError(t, s.DeleteKeys("a", "b", "missing"))

	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("b")
	assert.False(t, ok)
	v, ok := s.Get("c")
	require.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestStoreWritesValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.json")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("key", "value"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var parsed map[string]string
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "value", parsed["key"])

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
