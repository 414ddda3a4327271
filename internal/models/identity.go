package models

import (
	"strings"
	"time"
)

// Gender values accepted on a profile.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// Profile is the descriptive half of an identity. It never carries secrets.
type Profile struct {
	FirstName string    `yaml:"first_name" json:"first_name"`
	LastName  string    `yaml:"last_name" json:"last_name"`
	Email     string    `yaml:"email" json:"email"`
	Phone     string    `yaml:"phone" json:"phone"`
	BirthDate time.Time `yaml:"birth_date" json:"birth_date"`
	Address   string    `yaml:"address" json:"address"`
	Gender    string    `yaml:"gender" json:"gender"`
}

// DisplayName is the name shown in page headers.
func (p Profile) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Identity is a registered account: a profile plus its credential.
//
// ID is assigned by the store and never changes. Username and the profile
// email are each unique across all identities.
type Identity struct {
	ID           int64
	Username     string
	Profile      Profile
	Role         Role
	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy that shares no mutable state with i.
func (i *Identity) Clone() *Identity {
	clone := *i
	return &clone
}
