package llm

import (
	"context"
	"iter"
	"sync"
)

// StaticGenerator replays fixed deltas. It records every request and is
// safe for concurrent use.
type StaticGenerator struct {
	Deltas []string
	// Err is yielded after Deltas, if set.
	Err error

	mu       sync.Mutex
	requests []Request
}

func (s *StaticGenerator) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, d := range s.Deltas {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
		if s.Err != nil {
			yield("", s.Err)
		}
	}
}

// Requests returns the requests seen so far.
func (s *StaticGenerator) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

var _ Generator = (*StaticGenerator)(nil)
