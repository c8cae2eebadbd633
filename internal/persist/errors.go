package persist

import (
	"errors"
	"fmt"
)

// ErrStoreFull is wrapped by MetadataStore implementations when a write
// fails because the store's capacity is exhausted.
var ErrStoreFull = errors.New("metadata store full")

// WarningKind classifies a failed metadata save.
type WarningKind string

const (
	// KindStoreFull is retryable: the user can free space and save again.
	KindStoreFull WarningKind = "store_full"
	KindGeneric   WarningKind = "generic"
)

// Warning is a user-visible, dismissible persistence failure. The in-memory
// state that failed to save is left untouched; only durability degrades.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	Err       error       `json:"-"`
}

func (w *Warning) Error() string {
	return fmt.Sprintf("%s: %v", w.Kind, w.Err)
}

func (w *Warning) Unwrap() error {
	return w.Err
}

func newWarning(err error) *Warning {
	if errors.Is(err, ErrStoreFull) {
		return &Warning{
			Kind:      KindStoreFull,
			Message:   "Storage is full. Your board is still open but recent changes are not saved; free space or remove large items and try again.",
			Retryable: true,
			Err:       err,
		}
	}
	return &Warning{
		Kind:    KindGeneric,
		Message: "Saving the board failed. Recent changes may not be saved.",
		Err:     err,
	}
}
