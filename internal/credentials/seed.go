package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/elgarage/garage/internal/models"
	"github.com/elgarage/garage/internal/store"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Identities []seedIdentity `yaml:"identities"`
}

type seedIdentity struct {
	Username string         `yaml:"username"`
	Password string         `yaml:"password"`
	Role     models.Role    `yaml:"role"`
	Profile  models.Profile `yaml:"profile"`
}

// SeedFromFile creates the identities listed in a YAML file. Entries whose
// username already exists are skipped, so seeding is safe on every start.
//
//	identities:
//	  - username: admin
//	    password: Adm1nPass
//	    role: admin
//	    profile:
//	      first_name: Garage
//	      last_name: Admin
//	      email: admin@example.com
//	      phone: "600000000"
//	      gender: other
func (s *Service) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	created := 0
	for i, entry := range sf.Identities {
		_, err := s.CreateIdentity(ctx, NewIdentity{
			Username: entry.Username,
			Password: entry.Password,
			Role:     entry.Role,
			Profile:  entry.Profile,
		})
		switch {
		case err == nil:
			created++
		case errors.Is(err, store.ErrUsernameTaken):
			log.Debug().Str("username", entry.Username).Msg("Seed identity already exists, skipping")
		default:
			return created, fmt.Errorf("seed entry %d (%s): %w", i, entry.Username, err)
		}
	}

	log.Info().Int("created", created).Int("total", len(sf.Identities)).Msg("Seeded identities")
	return created, nil
}
