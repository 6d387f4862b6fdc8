// Package hemisphere models the per-hemisphere provider configuration (Logic
// and Artist) and the Store contract used to persist it. Concrete backends
// live under internal/storage.
package hemisphere
