// Package pipeline contains the dual-hemisphere orchestrator. A run sends the
// conversation to the Logic hemisphere for a correct and complete draft, then
// hands only that draft and the latest user utterance to the Artist hemisphere
// for a warmer rewrite. The two calls are strictly sequential.
package pipeline
