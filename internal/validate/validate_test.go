package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/elgarage/garage/internal/models"
	"github.com/stretchr/testify/require"
)

func TestUsername(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"alice", true},
		{"al_ce-99", true},
		{"abcd", true},
		{strings.Repeat("a", 20), true},
		{"abc", false},
		{strings.Repeat("a", 21), false},
		{"alice smith", false},
		{"alicé", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			require.Equal(t, tt.valid, Username(tt.input) == "")
		})
	}
}

func TestPassword(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{name: "letters and digit", input: "Passw0rd!", valid: true},
		{name: "minimum length", input: "abcdefg1", valid: true},
		{name: "too short", input: "abc1", valid: false},
		{name: "no digit", input: "Password!", valid: false},
		{name: "no letter", input: "12345678!", valid: false},
		{name: "symbol outside set", input: "Passw0rd#", valid: false},
		{name: "space", input: "Pass w0rd", valid: false},
		{name: "over bcrypt limit", input: strings.Repeat("a1", 40), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.valid, Password(tt.input) == "")
		})
	}
}

func TestEmail(t *testing.T) {
	require.Empty(t, Email("alice@example.com"))
	require.Empty(t, Email("a.b-c@mail.example.es"))
	require.NotEmpty(t, Email("alice@example"))
	require.NotEmpty(t, Email("alice.example.com"))
	require.NotEmpty(t, Email("alice@@example.com"))
}

func TestName(t *testing.T) {
	require.Empty(t, Name("First name", "María José"))
	require.Empty(t, Name("Last name", "Núñez"))
	require.NotEmpty(t, Name("First name", ""))
	require.NotEmpty(t, Name("First name", "R2D2"))
	require.NotEmpty(t, Name("First name", "<script>"))
}

func TestPhone(t *testing.T) {
	require.Empty(t, Phone("6001234"))
	require.Empty(t, Phone("346001234567890"))
	require.NotEmpty(t, Phone("600 123 456"))
	require.NotEmpty(t, Phone("123456"))
	require.NotEmpty(t, Phone("+34600123456"))
}

func TestBirthDate(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{name: "adult", input: "1990-01-01", valid: true},
		{name: "exactly thirteen", input: "2013-06-15", valid: true},
		{name: "thirteen tomorrow", input: "2013-06-16", valid: false},
		{name: "exactly one hundred", input: "1926-06-15", valid: true},
		{name: "over one hundred", input: "1925-06-15", valid: false},
		{name: "not a date", input: "15/06/1990", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, msg := BirthDate(tt.input, now)
			require.Equal(t, tt.valid, msg == "", msg)
			if tt.valid {
				require.Equal(t, tt.input, date.Format(time.DateOnly))
			}
		})
	}
}

func TestProfile_collectsAllErrors(t *testing.T) {
	errs := Profile(models.Profile{
		FirstName: "",
		LastName:  "Smith",
		Email:     "bad",
		Phone:     "12",
		Gender:    "unknown",
	})

	require.Len(t, errs, 4)
	require.False(t, errs.Empty())

	errs = Profile(models.Profile{
		FirstName: "Ana",
		LastName:  "García",
		Email:     "ana@example.com",
		Phone:     "600123456",
		Gender:    models.GenderFemale,
	})
	require.True(t, errs.Empty())
}
