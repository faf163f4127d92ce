// Package vectorstore is the engine's client for the remote vector index.
//
// A Client wraps a Backend and routes every backend call through the retry
// policy. Tenants are confined to namespaces derived by ResolveNamespace;
// the backend enforces the namespace boundary on every read and write.
//
// Two backends are provided:
//
//   - QdrantBackend: the index is one Qdrant collection; the namespace is a
//     keyword payload field present in every point and in every filter.
//   - ChromemBackend: an embedded chromem-go database where each namespace
//     is a collection. Used for local development and tests.
//
// Metadata is flat: string, bool, int64, float64 or []string values. Use
// FlattenMetadata to convert arbitrary caller metadata; nested values are
// serialised to JSON under "<key>_flat".
package vectorstore
