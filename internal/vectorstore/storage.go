// Package vectorstore defines the vector index contract and hosts its
// backends. All backends report cosine distances; similarity conversion
// happens in the search gateway.
package vectorstore

import "ragengine/internal/domain"

// Storage persists chunk vectors and supports nearest-neighbor search.
type Storage = domain.VectorIndex
