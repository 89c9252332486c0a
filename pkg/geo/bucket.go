package geo

import (
	"math"

	"github.com/uber/h3-go/v4"
)

// bucketResolution trades lookup precision for bucket fan-out; res 7 cells
// are roughly 1-2 km across, adequate for "nearest known asset" enrichment
// without falling back to exact distance for every candidate.
const bucketResolution = 7

// Bucket is an H3 cell identifying a coarse geographic neighborhood, used by
// the Event Correlator to shortlist candidate assets before an exact
// distance comparison (internal/correlator).
type Bucket struct {
	H3Index    uint64
	Resolution int
}

// BucketFor returns the H3 bucket containing (lat, lon). ok is false for
// invalid coordinates.
func BucketFor(lat, lon float64) (Bucket, bool) {
	if !ValidLatLon(lat, lon) {
		return Bucket{}, false
	}
	cell := h3.LatLngToCell(h3.NewLatLng(lat, lon), bucketResolution)
	if cell == 0 {
		return Bucket{}, false
	}
	return Bucket{H3Index: uint64(cell), Resolution: bucketResolution}, true
}

// NeighborBuckets returns the bucket and its immediate ring, used to widen
// the nearest-asset search when the exact bucket is empty.
func NeighborBuckets(b Bucket) []Bucket {
	cell := h3.Cell(b.H3Index)
	ring, err := cell.GridDisk(1)
	if err != nil {
		return []Bucket{b}
	}
	out := make([]Bucket, 0, len(ring))
	for _, c := range ring {
		out = append(out, Bucket{H3Index: uint64(c), Resolution: b.Resolution})
	}
	return out
}

// ValidLatLon rejects NaN, Inf, and out-of-range coordinates.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(aLat, aLon, bLat, bLon float64) float64 {
	const earthRadiusM = 6371000.0
	radLat1 := aLat * math.Pi / 180
	radLat2 := bLat * math.Pi / 180
	dLat := (bLat - aLat) * math.Pi / 180
	dLon := (bLon - aLon) * math.Pi / 180
	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)
	h := sinDLat*sinDLat + math.Cos(radLat1)*math.Cos(radLat2)*sinDLon*sinDLon
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}
