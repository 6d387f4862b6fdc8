// Package probe validates a provider credential and model pair with a minimal
// one-message round trip before the pair is persisted.
package probe
