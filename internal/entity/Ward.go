package entity

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Ring is a closed polygon boundary. The first and last vertex do not need
// to repeat; containment tests treat the ring as implicitly closed.
type Ring []Point

// Ward is an administrative region that scopes polls. Boundary geometry is
// loaded once from storage and is read-only on the voting path.
type Ward struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Boundary []Ring `json:"boundary"`
}
