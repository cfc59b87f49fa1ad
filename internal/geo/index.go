package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/rishabh19bvp/Opinify-MVP-V3/internal/entity"
)

var (
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrWardNotFound      = errors.New("no ward contains the coordinate")
)

// Resolver maps a coordinate to the ward that contains it. The linear-scan
// Index below is enough for a few hundred wards; callers depend on this
// interface so a spatial index can replace it without touching them.
type Resolver interface {
	ResolveWard(lat, lon float64) (entity.Ward, error)
}

type boundingBox struct {
	minLat, maxLat float64
	minLon, maxLon float64
}

type indexedWard struct {
	ward  entity.Ward
	boxes []boundingBox
}

// Index resolves coordinates by scanning wards in ascending id order with a
// bounding-box prefilter before the exact polygon test. When boundaries
// overlap, the first containing ward wins; the ordering makes that
// deterministic across lookups.
type Index struct {
	wards []indexedWard
}

func NewIndex(wards []entity.Ward) (*Index, error) {
	const op = "geo.NewIndex"

	idx := &Index{wards: make([]indexedWard, 0, len(wards))}
	for _, w := range wards {
		iw := indexedWard{ward: w}
		for _, ring := range w.Boundary {
			if len(ring) < 3 {
				return nil, fmt.Errorf("%s: ward %d has a ring with %d vertices", op, w.ID, len(ring))
			}
			iw.boxes = append(iw.boxes, ringBox(ring))
		}
		idx.wards = append(idx.wards, iw)
	}
	return idx, nil
}

func (idx *Index) ResolveWard(lat, lon float64) (entity.Ward, error) {
	const op = "geo.Index.ResolveWard"

	if err := ValidateCoordinate(lat, lon); err != nil {
		return entity.Ward{}, fmt.Errorf("%s: %w", op, err)
	}

	p := entity.Point{Lat: lat, Lon: lon}
	for _, iw := range idx.wards {
		for i, box := range iw.boxes {
			if !box.contains(p) {
				continue
			}
			if ringContains(iw.ward.Boundary[i], p) {
				return iw.ward, nil
			}
		}
	}

	return entity.Ward{}, fmt.Errorf("%s: %w", op, ErrWardNotFound)
}

func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return ErrInvalidCoordinate
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

func ringBox(ring entity.Ring) boundingBox {
	box := boundingBox{
		minLat: ring[0].Lat, maxLat: ring[0].Lat,
		minLon: ring[0].Lon, maxLon: ring[0].Lon,
	}
	for _, p := range ring[1:] {
		box.minLat = math.Min(box.minLat, p.Lat)
		box.maxLat = math.Max(box.maxLat, p.Lat)
		box.minLon = math.Min(box.minLon, p.Lon)
		box.maxLon = math.Max(box.maxLon, p.Lon)
	}
	return box
}

func (b boundingBox) contains(p entity.Point) bool {
	return p.Lat >= b.minLat && p.Lat <= b.maxLat && p.Lon >= b.minLon && p.Lon <= b.maxLon
}

// ringContains runs a ray cast over the ring edges. Points lying exactly on
// an edge count as inside, so a coordinate on a shared border resolves to
// the first ward in scan order instead of falling through to not-found.
func ringContains(ring entity.Ring, p entity.Point) bool {
	inside := false
	n := len(ring)
	for i := 0; i < n; i++ {
		a := ring[i]
		b := ring[(i+1)%n]

		if onSegment(a, b, p) {
			return true
		}

		intersects := (a.Lat > p.Lat) != (b.Lat > p.Lat)
		if intersects {
			lonAt := a.Lon + (p.Lat-a.Lat)/(b.Lat-a.Lat)*(b.Lon-a.Lon)
			if p.Lon < lonAt {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p entity.Point) bool {
	const eps = 1e-12

	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	if math.Abs(cross) > eps {
		return false
	}
	return p.Lat >= math.Min(a.Lat, b.Lat)-eps && p.Lat <= math.Max(a.Lat, b.Lat)+eps &&
		p.Lon >= math.Min(a.Lon, b.Lon)-eps && p.Lon <= math.Max(a.Lon, b.Lon)+eps
}
