// Package geo provides the geometry primitives shared by the Graph
// Validator (polygon schema checks), the Zone node (containment), and the
// Event Correlator (nearest-asset enrichment). Polygon math is delegated to
// github.com/paulmach/orb rather than hand-rolled, since that is the
// geometry library the example pack already depends on.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Point is a plain [x, y] pair as used in node config JSON (spec §6: zone
// `polygon:[[num,num],...]`). It is distinct from orb.Point at the config
// boundary so JSON (un)marshalling stays a simple [2]float64 array.
type Point [2]float64

// Polygon is a closed ring of at least 3 points, as validated by the Graph
// Validator before a zone node is allowed to deploy.
type Polygon []Point

func (p Polygon) ring() orb.Ring {
	ring := make(orb.Ring, 0, len(p)+1)
	for _, pt := range p {
		ring = append(ring, orb.Point{pt[0], pt[1]})
	}
	if len(ring) > 0 && !ring[0].Equal(ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	return ring
}

// Contains reports whether pt lies inside the polygon using the even-odd
// (ray casting) rule, with boundary points classified as inside per spec §8
// ("bbox center exactly on an edge is classified as inside").
func (p Polygon) Contains(pt Point) bool {
	ring := p.ring()
	poly := orb.Polygon{ring}
	op := orb.Point{pt[0], pt[1]}
	if planar.PolygonContains(poly, op) {
		return true
	}
	return onBoundary(ring, op)
}

func onBoundary(ring orb.Ring, p orb.Point) bool {
	for i := 0; i < len(ring)-1; i++ {
		if pointOnSegment(p, ring[i], ring[i+1]) {
			return true
		}
	}
	return false
}

func pointOnSegment(p, a, b orb.Point) bool {
	const eps = 1e-9
	cross := (p[0]-a[0])*(b[1]-a[1]) - (p[1]-a[1])*(b[0]-a[0])
	if cross > eps || cross < -eps {
		return false
	}
	minX, maxX := a[0], b[0]
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := a[1], b[1]
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return p[0] >= minX-eps && p[0] <= maxX+eps && p[1] >= minY-eps && p[1] <= maxY+eps
}

// Valid reports whether a polygon config satisfies the schema rule: at
// least 3 points, none with a NaN coordinate. Points are not checked for
// being distinct, and infinite coordinates are not rejected.
func (p Polygon) Valid() bool {
	if len(p) < 3 {
		return false
	}
	for _, pt := range p {
		if pt[0] != pt[0] || pt[1] != pt[1] { // NaN check without math import
			return false
		}
	}
	return true
}
