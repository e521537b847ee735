// Package seed builds fake group rosters for tests and for the local fake gateway.
// These helpers are intended for development and testing only.
package seed

import (
	"strconv"

	"dailypair/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

// RosterFactory generates group members with unique numeric ids.
type RosterFactory struct {
	faker *gofakeit.Faker
	seen  map[string]bool
}

// NewRosterFactory returns a factory. The same seed yields the same rosters.
func NewRosterFactory(seed int64) *RosterFactory {
	return &RosterFactory{faker: gofakeit.New(seed), seen: make(map[string]bool)}
}

// Member builds one member. Roughly half get a group card.
func (f *RosterFactory) Member() models.Member {
	var id string
	for {
		// nine digits never collides with the ten-digit excluded account
		id = strconv.Itoa(f.faker.Number(100000000, 999999999))
		if !f.seen[id] {
			break
		}
	}
	f.seen[id] = true

	m := models.Member{UserID: id, Nickname: f.faker.Username()}
	if f.faker.Bool() {
		m.Card = f.faker.FirstName()
	}
	return m
}

// Roster builds n members.
func (f *RosterFactory) Roster(n int) []models.Member {
	members := make([]models.Member, 0, n)
	for range n {
		members = append(members, f.Member())
	}
	return members
}
