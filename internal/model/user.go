// Package models defines the data structures used throughout the body-metrics tracker.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PlaceholderPassword is stored in users.hashed_password for every account.
// There is no login flow yet, so nothing is ever hashed or compared.
const PlaceholderPassword = "password"

// DateLayout is the textual form of a calendar date such as a date of birth.
const DateLayout = "2006-01-02"

// Date is a calendar date without a time of day.
type Date struct {
	time.Time
}

// NewDate returns the date of t, normalized to midnight UTC.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in DateLayout.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("date must be in %s format: %w", DateLayout, err)
	}
	*d = parsed
	return nil
}

// User is a profile record in the user directory.
type User struct {
	// ID is assigned by the store and never reused
	ID int64 `json:"user_id"`

	// UserName defaults to the local part of the email
	UserName string `json:"user_name"`

	// Email is the lookup key of the directory and is unique
	Email string `json:"email"`

	DOB         *Date   `json:"dob"`
	Gender      *string `json:"gender"`
	Race        *string `json:"race"`
	PhoneNumber *string `json:"phone_number"`

	// Activated is set at creation; there is no deactivation flow
	Activated bool `json:"activated"`

	// HashedPassword always holds PlaceholderPassword
	HashedPassword string `json:"-"`
}

// NewUser builds the record created on the first reference to email.
// The user name is the part of the email before the first "@".
func NewUser(email string) User {
	name, _, _ := strings.Cut(email, "@")
	return User{
		UserName:       name,
		Email:          email,
		Activated:      true,
		HashedPassword: PlaceholderPassword,
	}
}

// UserPatch is a partial profile update. A nil field is left untouched.
// For the optional fields (DOB, Gender, Race, PhoneNumber) a non-nil pointer
// to the zero value clears the stored value.
type UserPatch struct {
	UserName    *string `json:"user_name,omitempty" validate:"omitempty,max=255"`
	Email       *string `json:"email,omitempty" validate:"omitempty,max=255"`
	DOB         *Date   `json:"dob,omitempty"`
	Gender      *string `json:"gender,omitempty" validate:"omitempty,max=50"`
	Race        *string `json:"race,omitempty" validate:"omitempty,max=50"`
	PhoneNumber *string `json:"phone_number,omitempty" validate:"omitempty,max=20"`
}

// IsEmpty reports whether the patch carries no field at all.
func (p UserPatch) IsEmpty() bool {
	return p.UserName == nil && p.Email == nil && p.DOB == nil &&
		p.Gender == nil && p.Race == nil && p.PhoneNumber == nil
}

// Apply returns a copy of u with the supplied fields of p replaced.
func (u User) Apply(p UserPatch) User {
	if p.UserName != nil {
		u.UserName = *p.UserName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.DOB != nil {
		if p.DOB.IsZero() {
			u.DOB = nil
		} else {
			dob := *p.DOB
			u.DOB = &dob
		}
	}
	u.Gender = applyOptional(u.Gender, p.Gender)
	u.Race = applyOptional(u.Race, p.Race)
	u.PhoneNumber = applyOptional(u.PhoneNumber, p.PhoneNumber)
	return u
}

func applyOptional(current, patch *string) *string {
	if patch == nil {
		return current
	}
	if *patch == "" {
		return nil
	}
	v := *patch
	return &v
}
