// Package llm contains the provider-agnostic message model and the adapter
// contract for invoking large language model vendors. Vendor-specific request
// and response shapes live in the anthropic and openai subpackages.
package llm
