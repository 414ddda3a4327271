// Package validate checks the shape of user supplied account fields.
//
// Every check returns a user facing message rather than an error so a form
// can report all problems at once.
package validate

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/elgarage/garage/internal/models"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,20}$`)
	passwordPattern = regexp.MustCompile(`^[A-Za-z\d@$!%*?&]{8,}$`)
	emailPattern    = regexp.MustCompile(`^[\w.-]+@[\w.-]+\.\w{2,}$`)
	phonePattern    = regexp.MustCompile(`^\d{7,15}$`)
)

const (
	MinAge = 13
	MaxAge = 100

	maxNameLength    = 50
	maxAddressLength = 200
	maxPasswordBytes = 72
)

// Errors collects field problems in the order they were found.
type Errors []string

// Add records msg when it is not empty.
func (e *Errors) Add(msg string) {
	if msg != "" {
		*e = append(*e, msg)
	}
}

// Empty reports whether no problem was recorded.
func (e Errors) Empty() bool {
	return len(e) == 0
}

func (e Errors) Error() string {
	return strings.Join(e, "; ")
}

// Username checks the login handle.
func Username(s string) string {
	if !usernamePattern.MatchString(s) {
		return "Username must be 4 to 20 characters: letters, digits, underscore or hyphen."
	}
	return ""
}

// Password checks a new secret: at least 8 characters from the allowed set
// with at least one letter and one digit.
func Password(s string) string {
	const msg = "Password must be at least 8 characters and include a letter and a digit. Allowed symbols: @$!%*?&"
	if len(s) > maxPasswordBytes || !passwordPattern.MatchString(s) {
		return msg
	}
	if !strings.ContainsFunc(s, isASCIILetter) || !strings.ContainsFunc(s, unicode.IsDigit) {
		return msg
	}
	return ""
}

// PasswordConfirmation checks the repeated secret matches.
func PasswordConfirmation(password, confirm string) string {
	if password != confirm {
		return "Passwords do not match."
	}
	return ""
}

// Email checks the address shape.
func Email(s string) string {
	if !emailPattern.MatchString(s) {
		return "Email address is not valid."
	}
	return ""
}

// Name checks a first or last name: letters (accented included) and spaces.
func Name(field, s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return field + " is required."
	}
	if len([]rune(s)) > maxNameLength {
		return field + " is too long."
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != ' ' {
			return field + " may only contain letters and spaces."
		}
	}
	return ""
}

// Phone checks a phone number of 7 to 15 digits.
func Phone(s string) string {
	if !phonePattern.MatchString(s) {
		return "Phone number must have 7 to 15 digits."
	}
	return ""
}

// Address checks the optional postal address.
func Address(s string) string {
	if len([]rune(s)) > maxAddressLength {
		return "Address is too long."
	}
	return ""
}

// Gender checks the profile gender is one of the offered options.
func Gender(s string) string {
	switch s {
	case models.GenderMale, models.GenderFemale, models.GenderOther:
		return ""
	}
	return "Select a valid gender."
}

// BirthDate parses a YYYY-MM-DD date and checks the implied age is between
// MinAge and MaxAge on now.
func BirthDate(s string, now time.Time) (time.Time, string) {
	date, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, "Birth date is not valid."
	}
	age := Age(date, now)
	if age < MinAge || age > MaxAge {
		return time.Time{}, "You must be between 13 and 100 years old."
	}
	return date, ""
}

// Age returns full years elapsed between birth and now.
func Age(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	return years
}

// Profile checks every profile field and returns all problems found.
func Profile(p models.Profile) Errors {
	var errs Errors
	errs.Add(Name("First name", p.FirstName))
	errs.Add(Name("Last name", p.LastName))
	errs.Add(Email(p.Email))
	errs.Add(Phone(p.Phone))
	errs.Add(Address(p.Address))
	errs.Add(Gender(p.Gender))
	return errs
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
