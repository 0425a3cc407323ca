package analysis

import "errors"

// ErrProviderUnavailable is returned once the retry budget for an
// external call is exhausted. The caller decides whether to skip or
// re-enqueue; the cache stays empty for that key.
var ErrProviderUnavailable = errors.New("analysis provider unavailable")

// ErrCancelled is returned to every caller coalesced onto an in-flight
// call whose owning context was cancelled, and to waiters whose own
// context ends first.
var ErrCancelled = errors.New("analysis cancelled")
