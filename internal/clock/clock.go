package clock

import (
	"strings"
	"time"

	"go.uber.org/fx"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func NewSystemClock() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)

// InZone resolves now in the named IANA zone, falling back to fallback and then UTC.
func InZone(now time.Time, zone string, fallback string) time.Time {
	if loc := loadLocation(zone); loc != nil {
		return now.In(loc)
	}
	if loc := loadLocation(fallback); loc != nil {
		return now.In(loc)
	}
	return now.UTC()
}

func loadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil
	}
	return loc
}
