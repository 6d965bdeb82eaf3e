//go:build !protogen

package directory

import (
	"context"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

// Provider fetches organization settings from the platform directory
// service. The real client is generated from protos and only compiled
// behind the protogen tag; without it the engine reads settings from
// its own mirror tables.
type Provider interface {
	OrgSettings(ctx context.Context, orgID string) (model.OrgSettings, error)
}

func NewProvider(_ string) (Provider, error) {
	return nil, nil
}
