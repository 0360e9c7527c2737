package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidLatLong is returned when a "lat,long" pair cannot be parsed.
var ErrInvalidLatLong = errors.New("invalid lat,long pair")

// Point is a coordinate in decimal degrees.
type Point struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// ParseLatLong parses the "lat,long" text form used on the wire and in the
// database.
func ParseLatLong(s string) (Point, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("%w: %q", ErrInvalidLatLong, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: latitude %q", ErrInvalidLatLong, parts[0])
	}
	long, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: longitude %q", ErrInvalidLatLong, parts[1])
	}
	if !finite(lat) || !finite(long) {
		return Point{}, fmt.Errorf("%w: not a number %q", ErrInvalidLatLong, s)
	}
	if lat < -90 || lat > 90 || long < -180 || long > 180 {
		return Point{}, fmt.Errorf("%w: out of range %q", ErrInvalidLatLong, s)
	}
	return Point{Lat: lat, Long: long}, nil
}

// Valid reports whether p is a finite coordinate within range.
func (p Point) Valid() bool {
	return finite(p.Lat) && finite(p.Long) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Long >= -180 && p.Long <= 180
}

// String renders the point as "lat,long".
func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Long, 'f', -1, 64)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
