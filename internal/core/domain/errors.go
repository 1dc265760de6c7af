package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrTemporary            = errors.New("temporary failure")
	ErrFileNotFound         = errors.New("file not found")
	ErrOCREngineUnavailable = errors.New("ocr engine unavailable")
	ErrOracleUnavailable    = errors.New("classification oracle unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
