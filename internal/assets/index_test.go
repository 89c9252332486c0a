package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WispAyr/overwatch-sub003/pkg/geo"
)

func TestLoadMissingFileReturnsEmptyIndex(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "nonexistent.json"))
	require.NoError(t, err)

	_, _, ok := idx.NearestAsset(geo.Point{37.7749, -122.4194})
	assert.False(t, ok)
}

func TestLoadParsesAssetsAndFindsNearest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.json")
	data := `[
		{"name": "gate-1", "lat": 37.7749, "lon": -122.4194},
		{"name": "gate-2", "lat": 37.8044, "lon": -122.2712}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	idx, err := Load(path)
	require.NoError(t, err)

	name, dist, ok := idx.NearestAsset(geo.Point{37.7750, -122.4195})
	require.True(t, ok)
	assert.Equal(t, "gate-1", name)
	assert.Less(t, dist, 1000.0)
}

func TestNearestAssetPicksClosestOfSeveralInSameBucket(t *testing.T) {
	idx := NewIndex()
	idx.Add(Asset{Name: "gate-near", Lat: 37.7749, Lon: -122.4194})
	idx.Add(Asset{Name: "gate-far", Lat: 37.7755, Lon: -122.4200})

	name, _, ok := idx.NearestAsset(geo.Point{37.7749, -122.4194})
	require.True(t, ok)
	assert.Equal(t, "gate-near", name)
}

func TestNearestAssetOnEmptyIndexReturnsFalse(t *testing.T) {
	idx := NewIndex()
	_, _, ok := idx.NearestAsset(geo.Point{0, 0})
	assert.False(t, ok)
}

func TestAddSkipsInvalidCoordinates(t *testing.T) {
	idx := NewIndex()
	idx.Add(Asset{Name: "bad", Lat: 999, Lon: 999})

	_, _, ok := idx.NearestAsset(geo.Point{0, 0})
	assert.False(t, ok)
}
