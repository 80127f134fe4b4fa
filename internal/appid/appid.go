package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/openmkt/openmkt/internal/assets/appidentity"
)

func init() {
	// Explicit identity overrides (FULMEN_APP_IDENTITY_PATH) stay authoritative;
	// the embedded copy only applies when nothing else is found.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

// Get returns the resolved app identity.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}
