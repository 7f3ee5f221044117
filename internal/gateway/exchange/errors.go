package exchange

import "errors"

// ErrOrderNotFound is returned by FetchOrderByID when the venue has no order
// under the given id. Callers treat it as evidence, not as a transport fault.
var ErrOrderNotFound = errors.New("exchange order not found")
