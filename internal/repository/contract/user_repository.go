package contract

import (
	"context"

	"wordware-roast-be/internal/entity"
	"wordware-roast-be/internal/repository/specification"
)

type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.User, error)

	// UpdateFields merges the given columns into the record identified by
	// username. Columns not named are left untouched. Returns
	// ErrUserNotFound when no row matched.
	UpdateFields(ctx context.Context, username string, fields map[string]interface{}) error
}
