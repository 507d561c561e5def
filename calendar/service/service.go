// Package service implements the calendar use cases on top of the gorm
// repository. Services validate input, enforce time-zone and past-instant
// rules and translate fuzzy title references into concrete rows.
package service

import (
	"time"

	"github.com/yoavra/yoman/calendar/domain"
)

// userLocation resolves the user's IANA zone, falling back to UTC when the
// stored name is broken.
func userLocation(u domain.User) *time.Location {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
