package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrDuplicateKey an entry with the same key already exists
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotFound the requested entry does not exist
	ErrNotFound = errors.New("entry not found")
	// ErrStorageUnavailable the storage engine could not complete the operation
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidEntry the entry failed validation
	ErrInvalidEntry = errors.New("invalid entry")
)

// classifyError map a storage engine error onto one of the sentinel errors
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrDuplicateKey),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrInvalidEntry):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w [%w]", ErrDuplicateKey, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w [%w]", ErrNotFound, err)
	}
	// Some driver builds do not translate constraint violations
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w [%w]", ErrDuplicateKey, err)
	}
	return fmt.Errorf("%w [%w]", ErrStorageUnavailable, err)
}

// invalidEntry wrap a validation failure
func invalidEntry(err error) error {
	return fmt.Errorf("%w [%w]", ErrInvalidEntry, err)
}
