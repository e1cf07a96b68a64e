package marketplace

import (
	"errors"
	"fmt"
)

// AuthError marks a credential or authorization failure. The
// orchestrator reacts by deactivating the store and abandoning its
// remaining products for the cycle.
type AuthError struct {
	Op     string
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("marketplace auth failure during %s: %s", e.Op, e.Detail)
}

// FetchError marks a transient failure fetching competitive offers.
// The affected product is skipped for the cycle with no offer write.
type FetchError struct {
	ASIN string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching offers for %s: %v", e.ASIN, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PushError marks a rejected or failed price update. The local price
// stays at the last marketplace-confirmed value.
type PushError struct {
	SKU string
	Err error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("pushing price for %s: %v", e.SKU, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// IsAuth reports whether err is classified as an authentication
// failure anywhere in its chain.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
