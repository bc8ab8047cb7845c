// Package geo is the single computational-geometry primitive shared by the
// active-space builder and the track intersector. Keeping projection,
// containment and ring validation in one place guarantees both sides agree
// on boundary semantics: a point exactly on a polygon edge counts as inside.
//
// All coordinates are WGS84 decimal degrees; orb stores points as (lon, lat).
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Point is a WGS84 coordinate in (lon, lat) order.
type Point = orb.Point

// Ring is an ordered closed vertex ring.
type Ring = orb.Ring

// NewPoint builds a Point from latitude and longitude in the order people
// quote coordinates, avoiding silent lat/lon swaps at call sites.
func NewPoint(lat, lon float64) Point {
	return orb.Point{lon, lat}
}

// Destination projects a point along a compass bearing for a geodesic
// distance in meters and returns the resulting coordinate.
func Destination(origin Point, bearingDeg, distanceM float64) Point {
	return geo.PointAtBearingAndDistance(origin, bearingDeg, distanceM)
}

// DistanceM returns the great-circle distance between two points in meters.
func DistanceM(a, b Point) float64 {
	return geo.Distance(a, b)
}

// BearingDeg returns the initial compass bearing from one point to another,
// normalized to [0, 360).
func BearingDeg(from, to Point) float64 {
	b := geo.Bearing(from, to)
	if b < 0 {
		b += 360
	}
	return math.Mod(b, 360)
}

// PointInRing reports whether p lies inside the ring. Points on the ring
// boundary are classified as inside; this convention is relied on by the
// track intersector when counting audible duration at polygon edges.
func PointInRing(ring Ring, p Point) bool {
	return planar.RingContains(ring, p)
}

// CloseRing returns the ring with its first vertex appended if the ring is
// not already explicitly closed. A nil or empty ring is returned unchanged.
func CloseRing(ring Ring) Ring {
	if len(ring) < 2 {
		return ring
	}
	if ring[0] == ring[len(ring)-1] {
		return ring
	}
	out := make(Ring, len(ring)+1)
	copy(out, ring)
	out[len(ring)] = ring[0]
	return out
}

// RingSelfIntersects reports whether any two non-adjacent edges of the ring
// cross. The ring is treated as closed. Rings here are small (one vertex per
// swept bearing) so the quadratic scan is fine.
func RingSelfIntersects(ring Ring) bool {
	r := CloseRing(ring)
	n := len(r) - 1 // number of edges
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			// Skip the closing edge's adjacency with the first edge.
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsCross(r[i], r[i+1], r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}

// segmentsCross reports whether segments ab and cd properly intersect or a
// segment endpoint lies strictly within the other segment.
func segmentsCross(a, b, c, d Point) bool {
	d1 := cross(c, d, a)
	d2 := cross(c, d, b)
	d3 := cross(a, b, c)
	d4 := cross(a, b, d)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if d1 == 0 && onSegment(c, d, a) {
		return true
	}
	if d2 == 0 && onSegment(c, d, b) {
		return true
	}
	if d3 == 0 && onSegment(a, b, c) {
		return true
	}
	if d4 == 0 && onSegment(a, b, d) {
		return true
	}
	return false
}

func cross(a, b, p Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

// onSegment reports whether p lies strictly within segment ab (collinearity
// already established by the caller). Shared endpoints of adjacent edges are
// not intersections.
func onSegment(a, b, p Point) bool {
	if p == a || p == b {
		return false
	}
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

// UTMZoneEPSG returns the EPSG code for the UTM zone containing the given
// coordinate, e.g. "epsg:26905" for UTM 5N. Northern hemisphere zones map to
// NAD83 269xx codes and southern to WGS84 327xx codes, matching NPS
// deployment metadata conventions.
func UTMZoneEPSG(lat, lon float64) string {
	// 6 degrees per zone; add 180 because zone 1 starts at 180 W.
	zone := int((lon+180)/6) + 1
	if lat > 0 {
		return fmt.Sprintf("epsg:269%02d", zone)
	}
	return fmt.Sprintf("epsg:327%02d", zone)
}
