package feed

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrSourcePanic is reported to a view when the product source panics while
// fetching.
var ErrSourcePanic = errors.New("product source panicked")

// FetchError is a transient transport failure surfaced to the user for a key.
// Initial loads only surface it once automatic retries are exhausted;
// pagination surfaces it immediately, keeping the items already loaded.
type FetchError struct {
	Key      Key
	Page     int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("load %s page %d after %d attempts: %v", e.Key, e.Page, e.Attempts, e.Err)
	}
	return fmt.Sprintf("load %s page %d: %v", e.Key, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Initial reports whether the failed request was the first page of its key.
func (e *FetchError) Initial() bool {
	return e.Page == 1
}
