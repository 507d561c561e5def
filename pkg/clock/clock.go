package clock

import "time"

// Clock abstracts time so the router, parser and scheduler can be tested
// against a fixed instant. Production code uses System.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the real clock. Always reports UTC.
func System() Clock { return systemClock{} }

// Fixed is a Clock frozen at a single instant.
type Fixed struct {
	Instant time.Time
}

func (f Fixed) Now() time.Time { return f.Instant.UTC() }

// At builds a Fixed clock from a wall time in the given zone.
func At(year int, month time.Month, day, hour, min int, loc *time.Location) Fixed {
	return Fixed{Instant: time.Date(year, month, day, hour, min, 0, 0, loc)}
}
