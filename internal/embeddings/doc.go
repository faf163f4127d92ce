// Package embeddings adapts langchaingo embedding providers to the single
// text-to-vector contract the memory engine needs.
//
// Providers: OpenAI (default, text-embedding-3-small), TEI through its
// OpenAI-compatible API, and Ollama. The adapter does not cache and does
// not retry; it optionally paces requests with a token bucket.
package embeddings
