package conversation

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrNotFound         = errors.New("conversation not found")
	ErrDuplicateTurn    = errors.New("duplicate inbound message")
	ErrInvalidInbound   = errors.New("invalid inbound message")
)

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateTurn) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
