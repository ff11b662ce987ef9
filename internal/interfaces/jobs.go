package interfaces

import (
	"context"

	"github.com/fancymatt/life-os-sub005/internal/models"
)

// JobLister performs the one-shot catch-up read of jobs already in flight.
// Implementations must bound the result count and filter to active states.
type JobLister interface {
	ListActiveJobs(ctx context.Context, limit int) ([]models.Job, error)
}
