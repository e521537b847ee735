// Package models contains the domain types persisted and exchanged by the pairing service.
package models

import (
	"encoding/json"
	"slices"
	"strings"
	"unicode/utf8"
)

// GlobalExcludedID is an account that can never be drawn or targeted.
const GlobalExcludedID = "2854196310"

// DisplayIdentity is the name and account id shown for a user.
type DisplayIdentity struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Format renders the identity as name(id). Line breaks are stripped and names
// longer than maxLen runes are cut and suffixed with "……".
func (d DisplayIdentity) Format(maxLen int) string {
	name := strings.NewReplacer("\r", "", "\n", "").Replace(d.Name)
	if maxLen > 0 && utf8.RuneCountInString(name) > maxLen {
		name = string([]rune(name)[:maxLen]) + "……"
	}
	if name == "" {
		name = d.ID
	}
	return name + "(" + d.ID + ")"
}

// Member is one roster entry returned by the gateway.
type Member struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
}

// Identity prefers the group card over the account nickname.
func (m Member) Identity() DisplayIdentity {
	name := m.Card
	if name == "" {
		name = m.Nickname
	}
	return DisplayIdentity{Name: name, ID: m.UserID}
}

// PairEntry is one side of a pairing.
type PairEntry struct {
	PartnerID   string          `json:"user_id"`
	Partner     DisplayIdentity `json:"display"`
	IsInitiator bool            `json:"is_initiator"`
	Locked      bool            `json:"locked"`
}

// UnmarshalJSON treats entries written before the initiator flag existed as initiators.
func (p *PairEntry) UnmarshalJSON(data []byte) error {
	type alias PairEntry
	raw := struct {
		*alias
		IsInitiator *bool `json:"is_initiator"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.IsInitiator = raw.IsInitiator == nil || *raw.IsInitiator
	return nil
}

// GroupPairing is the pairing state of one group for one calendar day.
type GroupPairing struct {
	Date  string                `json:"date"`
	Pairs map[string]*PairEntry `json:"pairs"`
	Used  []string              `json:"used"`
}

// NewGroupPairing returns empty state for day.
func NewGroupPairing(day string) *GroupPairing {
	return &GroupPairing{Date: day, Pairs: make(map[string]*PairEntry), Used: []string{}}
}

// IsUsed reports whether userID has been paired today.
func (g *GroupPairing) IsUsed(userID string) bool {
	return slices.Contains(g.Used, userID)
}

// MarkUsed adds userID to the used set.
func (g *GroupPairing) MarkUsed(userID string) {
	if !g.IsUsed(userID) {
		g.Used = append(g.Used, userID)
	}
}

// Unmark removes userID from the used set.
func (g *GroupPairing) Unmark(userID string) {
	g.Used = slices.DeleteFunc(g.Used, func(id string) bool { return id == userID })
}

// Link writes both sides of a new pairing and marks both users used.
func (g *GroupPairing) Link(initiator, target DisplayIdentity) {
	g.Pairs[initiator.ID] = &PairEntry{PartnerID: target.ID, Partner: target, IsInitiator: true}
	g.Pairs[target.ID] = &PairEntry{PartnerID: initiator.ID, Partner: initiator, IsInitiator: false}
	g.MarkUsed(initiator.ID)
	g.MarkUsed(target.ID)
}

// Unlink removes userID's pairing and the reverse entry when it points back.
// It returns the former partner id, or "" when userID was not paired.
func (g *GroupPairing) Unlink(userID string) string {
	entry, ok := g.Pairs[userID]
	if !ok {
		return ""
	}
	delete(g.Pairs, userID)
	if back, ok := g.Pairs[entry.PartnerID]; ok && back.PartnerID == userID {
		delete(g.Pairs, entry.PartnerID)
	}
	return entry.PartnerID
}
