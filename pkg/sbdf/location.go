package sbdf

import "math"

const earthRadiusMetres = 6371000

type Location struct {
	Type        string    `json:"-" groups:"basic"`
	Coordinates []float64 `json:"coordinates" groups:"basic"` // longitude, latitude
}

func NewLocation(longitude float64, latitude float64) Location {
	return Location{
		Type:        "Point",
		Coordinates: []float64{longitude, latitude},
	}
}

func (l *Location) Longitude() float64 {
	return l.Coordinates[0]
}

func (l *Location) Latitude() float64 {
	return l.Coordinates[1]
}

// Distance returns the great-circle distance in metres between two locations
func (l *Location) Distance(other *Location) float64 {
	lon1 := l.Coordinates[0] * math.Pi / 180
	lat1 := l.Coordinates[1] * math.Pi / 180
	lon2 := other.Coordinates[0] * math.Pi / 180
	lat2 := other.Coordinates[1] * math.Pi / 180

	deltaLat := lat2 - lat1
	deltaLon := lon2 - lon1

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMetres * c
}

func (l *Location) IsValid() bool {
	if len(l.Coordinates) != 2 {
		return false
	}

	longitude := l.Coordinates[0]
	latitude := l.Coordinates[1]

	if math.IsNaN(longitude) || math.IsNaN(latitude) {
		return false
	}

	return longitude >= -180 && longitude <= 180 && latitude >= -90 && latitude <= 90
}
