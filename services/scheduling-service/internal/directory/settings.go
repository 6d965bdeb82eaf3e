package directory

import (
	"context"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

// Local is the mirror-backed settings read. storage.DirectoryRepository
// satisfies it.
type Local interface {
	OrgSettings(ctx context.Context, orgID string) (model.OrgSettings, error)
}

// Settings resolves organization settings, preferring the platform
// directory service when a client is configured and falling back to
// the local mirror.
type Settings struct {
	Platform Provider
	Fallback Local
}

func (s *Settings) OrgSettings(ctx context.Context, orgID string) (model.OrgSettings, error) {
	if s.Platform != nil {
		settings, err := s.Platform.OrgSettings(ctx, orgID)
		if err == nil {
			return settings, nil
		}
	}
	return s.Fallback.OrgSettings(ctx, orgID)
}
