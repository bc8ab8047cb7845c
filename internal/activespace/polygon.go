package activespace

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/soundscape-data/activespace/internal/geo"
	"github.com/soundscape-data/activespace/internal/propagation"
)

// Polygon is a built active space: a closed simple ring of WGS84 vertices,
// one per swept bearing, tagged with the parameter set and listening point
// that produced it. Vertices are ordered monotonically by bearing.
type Polygon struct {
	ID               string             `json:"id"`
	ListeningPointID string             `json:"listening_point_id"`
	Ring             geo.Ring           `json:"ring"`
	Samples          []BearingSample    `json:"samples"`
	Params           propagation.Params `json:"params"`
	BearingStepDeg   float64            `json:"bearing_step_deg"`
	Smoothing        string             `json:"smoothing"`
	CRS              string             `json:"crs"`
	BuiltAt          time.Time          `json:"built_at"`

	// SaturatedBearings lists bearings whose audibility search hit the
	// configured maximum distance. Non-empty means the search bounds may be
	// too narrow for this parameter set.
	SaturatedBearings []float64 `json:"saturated_bearings,omitempty"`
}

// Contains reports whether the point lies inside the active space.
// Boundary points count as inside, the same convention the track
// intersector uses.
func (p *Polygon) Contains(pt geo.Point) bool {
	return geo.PointInRing(p.Ring, pt)
}

// RadiusAt returns the audibility radius at an arbitrary bearing by linear
// interpolation between the two neighbouring sweep samples. Used by the
// tuner to compare modeled radii against ground-truth detection ranges.
func (p *Polygon) RadiusAt(bearingDeg float64) float64 {
	n := len(p.Samples)
	if n == 0 {
		return 0
	}
	for bearingDeg < 0 {
		bearingDeg += 360
	}
	for bearingDeg >= 360 {
		bearingDeg -= 360
	}

	step := 360.0 / float64(n)
	i := int(bearingDeg / step)
	j := (i + 1) % n
	frac := (bearingDeg - float64(i)*step) / step
	return p.Samples[i].RadiusM*(1-frac) + p.Samples[j].RadiusM*frac
}

// Validate enforces the closed-simple-ring invariant. It returns a
// *DegenerateGeometryError when the ring has fewer than three distinct
// vertices or self-intersects; downstream intersection is undefined in
// either case.
func (p *Polygon) Validate() error {
	distinct := make(map[geo.Point]struct{}, len(p.Ring))
	for i, v := range p.Ring {
		if i == len(p.Ring)-1 && v == p.Ring[0] {
			continue // closing vertex
		}
		distinct[v] = struct{}{}
	}
	if len(distinct) < 3 {
		return &DegenerateGeometryError{
			Reason:   "fewer than 3 distinct vertices",
			Vertices: len(distinct),
		}
	}
	if len(p.Ring) < 2 || p.Ring[0] != p.Ring[len(p.Ring)-1] {
		return &DegenerateGeometryError{
			Reason:   "ring is not closed",
			Vertices: len(distinct),
		}
	}
	if geo.RingSelfIntersects(p.Ring) {
		return &DegenerateGeometryError{
			Reason:   "ring self-intersects",
			Vertices: len(distinct),
		}
	}
	return nil
}

// GeoJSON serializes the polygon as a GeoJSON Feature for GIS consumption.
// The geometry is WGS84; the properties carry the parameter-set identifier,
// build timestamp and the site's UTM zone tag.
func (p *Polygon) GeoJSON() ([]byte, error) {
	f := geojson.NewFeature(orb.Polygon{orb.Ring(p.Ring)})
	f.Properties = geojson.Properties{
		"id":                 p.ID,
		"listening_point_id": p.ListeningPointID,
		"crs":                p.CRS,
		"built_at":           p.BuiltAt.UTC().Format(time.RFC3339),
		"bearing_step_deg":   p.BearingStepDeg,
		"smoothing":          p.Smoothing,
		"source_level_db":    p.Params.SourceLevelDB,
		"ground_factor":      p.Params.GroundFactor,
		"absorption_scale":   p.Params.AbsorptionScale,
	}
	return json.Marshal(f)
}
