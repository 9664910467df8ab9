package store

import (
	"errors"
	"fmt"
)

// StorageIOError reports that the backing medium could not be read or
// written. Nothing from the failed operation was committed.
type StorageIOError struct {
	Op  string
	Err error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageIOError) Unwrap() error {
	return e.Err
}

// IsStorageIO reports whether err is, or wraps, a StorageIOError.
func IsStorageIO(err error) bool {
	var se *StorageIOError
	return errors.As(err, &se)
}

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageIOError{Op: op, Err: err}
}
