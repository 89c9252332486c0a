package devices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmptyRegistry(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "nonexistent.json"))
	require.NoError(t, err)

	_, ok := r.Lookup("cam1")
	assert.False(t, ok)
}

func TestLoadParsesRecordsAndLookupDefaultsHealthScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	data := `{
		"cam1": {"tenant": "acme", "site": "hq", "area": "lobby", "health_score": 0.9},
		"cam2": {"tenant": "acme", "site": "hq", "area": "dock"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	r, err := Load(path)
	require.NoError(t, err)

	info, ok := r.Lookup("cam1")
	require.True(t, ok)
	assert.Equal(t, "acme", info.Tenant)
	assert.Equal(t, "hq", info.Site)
	assert.Equal(t, "lobby", info.Area)
	assert.Equal(t, 0.9, info.HealthScore)

	info2, ok := r.Lookup("cam2")
	require.True(t, ok)
	assert.Equal(t, 1.0, info2.HealthScore)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestSetOverridesLookup(t *testing.T) {
	r := NewRegistry()
	r.Set("cam1", Record{Tenant: "acme", Site: "hq", Area: "lobby", HealthScore: 0.5})

	info, ok := r.Lookup("cam1")
	require.True(t, ok)
	assert.Equal(t, 0.5, info.HealthScore)
}
