// Package embedding defines the collaborator interface for semantic
// indexing. The engine forwards saved items best-effort; a failing or
// absent collaborator never fails the primary write.
package embedding

import "context"

// Match is one semantic search hit.
type Match struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// Store indexes item text for semantic lookup. Implementations live
// outside this repository; the engine only depends on the interface.
type Store interface {
	StoreDocument(ctx context.Context, id, text string, metadata map[string]string) error
	SearchInSession(ctx context.Context, sessionID, query string, k int, minSimilarity float64) ([]Match, error)
}

// Noop discards writes and finds nothing. It is the default collaborator
// when no semantic backend is configured.
type Noop struct{}

func (Noop) StoreDocument(ctx context.Context, id, text string, metadata map[string]string) error {
	return nil
}

func (Noop) SearchInSession(ctx context.Context, sessionID, query string, k int, minSimilarity float64) ([]Match, error) {
	return nil, nil
}

var _ Store = Noop{}
