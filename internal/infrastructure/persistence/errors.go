package persistence

import (
	"errors"

	"github.com/textress/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// translate maps GORM's translated errors onto domain errors. Requires
// gorm.Config.TranslateError.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return shared.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return shared.ErrAlreadyExists
	}
	return err
}
