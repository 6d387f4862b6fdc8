// Package api exposes the HTTP surface of duotronicsd: the chat pipeline, the
// hemisphere configuration endpoints and the credential test endpoint.
package api
