package service

import (
	"errors"
	"fmt"
)

var (
	// ErrMetadataNotFound means the entity type is not configured for sync or the source row is gone
	ErrMetadataNotFound = errors.New("sync metadata not found")
	// ErrIntegrity marks a source row that cannot be replicated until its data is fixed
	ErrIntegrity = errors.New("source data integrity fault")
)

// ForeignKeyConstraintError is raised when a target rejects a row because an entity it
// references has not been replicated there yet. Retrying after the dependency syncs can succeed.
type ForeignKeyConstraintError struct {
	Region     string
	EntityType string
	EntityID   string
	Err        error
}

func (e *ForeignKeyConstraintError) Error() string {
	return fmt.Sprintf("foreign key constraint rejected %s/%s in region %s: %v", e.EntityType, e.EntityID, e.Region, e.Err)
}

func (e *ForeignKeyConstraintError) Unwrap() error {
	return e.Err
}

// IsForeignKeyViolation reports whether err carries a ForeignKeyConstraintError
func IsForeignKeyViolation(err error) bool {
	var fk *ForeignKeyConstraintError
	return errors.As(err, &fk)
}
