package user

import (
	"slices"
	"time"
)

// User is the single persisted record. JSON names follow what the SPA reads.
type User struct {
	ID                string    `json:"_id"`
	ExternalID        string    `json:"clerkId"`
	FirstName         string    `json:"firstName"`
	LastName          string    `json:"lastName,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	Instagram         string    `json:"instagram,omitempty"`
	PhotoURL          string    `json:"photoUrl,omitempty"`
	Likes             []string  `json:"likes"`
	Dislikes          []string  `json:"dislikes"`
	Matches           []string  `json:"matches"`
	ProfileIncomplete bool      `json:"updateNeeded"`
	CreatedAt         time.Time `json:"createdAt"`
}

// PublicProfile is what the discovery feed exposes about other users.
type PublicProfile struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
}

// MatchProfile adds the contact fields a user only sees for their matches.
type MatchProfile struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// MatchedUser is returned when a like produces a match.
type MatchedUser struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
}

func (u User) Public() PublicProfile {
	return PublicProfile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		PhotoURL:  u.PhotoURL,
	}
}

func (u User) MatchProfile() MatchProfile {
	return MatchProfile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		PhotoURL:  u.PhotoURL,
		Instagram: u.Instagram,
		Phone:     u.Phone,
	}
}

func (u User) Matched() MatchedUser {
	return MatchedUser{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName}
}

func (u User) HasLiked(id string) bool {
	return slices.Contains(u.Likes, id)
}

func (u User) HasDisliked(id string) bool {
	return slices.Contains(u.Dislikes, id)
}

func (u User) HasMatched(id string) bool {
	return slices.Contains(u.Matches, id)
}

// clone returns a copy whose slices do not alias the receiver's.
func (u User) clone() User {
	u.Likes = slices.Clone(u.Likes)
	u.Dislikes = slices.Clone(u.Dislikes)
	u.Matches = slices.Clone(u.Matches)
	return u
}

// normalize replaces nil relationship lists with empty ones so they encode as [].
func (u User) normalize() User {
	if u.Likes == nil {
		u.Likes = []string{}
	}
	if u.Dislikes == nil {
		u.Dislikes = []string{}
	}
	if u.Matches == nil {
		u.Matches = []string{}
	}
	return u
}
