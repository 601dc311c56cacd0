// Package stream provides the change stream connection manager.
package stream

import (
	"context"

	"github.com/safebeacon/core/internal/models"
)

// Source is the boundary to the remote change stream. Subscribe returns a
// channel of full entity snapshots for one collection. The channel closes
// when the subscription drops; the source does not reconnect on its own, the
// Manager calls Subscribe again.
type Source interface {
	Subscribe(ctx context.Context, collection models.Collection) (<-chan models.EntitySnapshot, error)
}
