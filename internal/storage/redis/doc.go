// Package redis stores the hemisphere configuration record in Redis so that
// several daemon replicas can share one setup.
package redis
