package fetch

import (
	"context"
	"errors"
)

// ErrNoRetrievers is returned by NewChain when every candidate was rejected
// at configuration time.
var ErrNoRetrievers = errors.New("no retrievers configured")

// Chain tries each retriever in order and returns the first success. The
// last classified error is surfaced when all of them fail.
type Chain struct {
	retrievers []Retriever
}

func NewChain(retrievers ...Retriever) (*Chain, error) {
	filtered := make([]Retriever, 0, len(retrievers))
	for _, r := range retrievers {
		if r != nil {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoRetrievers
	}
	return &Chain{retrievers: filtered}, nil
}

func (c *Chain) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	var lastErr error
	for _, r := range c.retrievers {
		if ctx.Err() != nil {
			break
		}
		resp, err := r.Get(ctx, rawURL, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = NewError(KindConnection, rawURL, ctx.Err())
	}
	return nil, lastErr
}
