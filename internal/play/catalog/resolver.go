package catalog

import (
	"context"

	"github.com/mantonx/playserver/internal/play"
)

// Resolver looks up the probed source metadata for a decoded play
// identifier. It is the seam to the excluded catalog-store collaborator —
// the real implementation queries the library database for the episode or
// movie's stored sources; nothing in this package persists anything.
type Resolver interface {
	// Sources returns every known source variant's metadata for id, in the
	// same order the client's source_index refers to.
	Sources(ctx context.Context, id play.PlayID) ([]play.SourceMetadata, error)
}

// Source resolves a single source by index, the shape
// internal/server/handlers actually wants; it's a thin convenience wrapper
// over Resolver.Sources.
func Source(ctx context.Context, r Resolver, id play.PlayID, index int) (play.SourceMetadata, error) {
	sources, err := r.Sources(ctx, id)
	if err != nil {
		return play.SourceMetadata{}, err
	}
	if index < 0 || index >= len(sources) {
		return play.SourceMetadata{}, play.ErrNoMetadata
	}
	return sources[index], nil
}
