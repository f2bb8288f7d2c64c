package availability

import (
	"context"

	"github.com/google/uuid"
)

// Store reads and replaces faculty templates. Get never fails for a faculty
// without a template; it returns an empty week. Replace is a full,
// idempotent overwrite.
type Store interface {
	Get(ctx context.Context, facultyID uuid.UUID) (WeekTemplate, error)
	Replace(ctx context.Context, facultyID uuid.UUID, tpl WeekTemplate) (WeekTemplate, error)
}
