package seeder

import (
	"context"

	"github.com/vnmchuo/modelgate/internal/auth"
	"github.com/vnmchuo/modelgate/pkg/logger"
)

const (
	DevAPIKey         = "mg-dev-key-12345"
	DevOrganizationID = "o_00000000000000000001"
)

// SeedDevAPIKey inserts a local development key. An existing key is left as
// is.
func SeedDevAPIKey(ctx context.Context, store auth.Store) {
	log := logger.NewComponentLogger("seeder")
	apiKey := &auth.APIKey{
		OrganizationID: DevOrganizationID,
		KeyHash:        auth.HashKey(DevAPIKey),
		Active:         true,
	}

	if err := store.Create(ctx, apiKey); err != nil {
		log.Info("dev api key may already exist, skipping", "error", err)
		return
	}
	log.Info("dev api key created", "organization_id", DevOrganizationID, "key", DevAPIKey)
}
