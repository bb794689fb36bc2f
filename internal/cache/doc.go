// Package cache holds the process-lifetime store behind /@hot-content. Each
// entry is keyed by the caller's logical name and carries the request
// signature it was produced for plus an expiry; a lookup with a different
// signature or after the expiry drops the entry and reports a miss. Nothing
// is persisted and there is no background eviction.
package cache
