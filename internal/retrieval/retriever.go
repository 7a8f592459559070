// Package retrieval queries the hosted document index and returns ranked,
// citable snippets.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"wa-relay/internal/domain"
)

// ErrReindexUnsupported is returned by backends without a reindex operation.
var ErrReindexUnsupported = errors.New("retrieval: reindex not supported by backend")

// Backend is a single retrieval implementation. Results may be unsorted and
// unnormalized; Service takes care of both.
type Backend interface {
	Name() string
	Query(ctx context.Context, text string, k int) ([]domain.Snippet, error)
}

// Reindexer is implemented by backends that can rebuild their index on demand.
type Reindexer interface {
	Reindex(ctx context.Context) (ReindexStatus, error)
}

// ReindexStatus is the backend's acknowledgement of a reindex request.
type ReindexStatus struct {
	Job    string `json:"job,omitempty"`
	Status string `json:"status,omitempty"`
}

// HTTPStatusError captures non-2xx responses from a retrieval backend.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("retrieval: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}
