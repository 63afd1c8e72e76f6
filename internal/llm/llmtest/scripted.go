// Package llmtest provides a deterministic llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/nomadcafe/kekiai-japaneseai/internal/llm"
)

// Reply is one scripted answer.
type Reply struct {
	Text string
	Err  error
}

// Scripted answers calls from a queue of replies. When the queue is empty,
// Fallback (if set) computes the answer from the request.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	Fallback func(llm.Request) (string, error)
	Calls    []llm.Request
}

// New returns a provider that answers with the given texts in order.
func New(texts ...string) *Scripted {
	s := &Scripted{}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

// Push appends replies.
func (s *Scripted) Push(replies ...Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
	return s
}

func (s *Scripted) Name() llm.Kind  { return llm.OpenAI }
func (s *Scripted) Available() bool { return true }

func (s *Scripted) Generate(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, req)
	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		return r.Text, r.Err
	}
	if s.Fallback != nil {
		return s.Fallback(req)
	}
	return "", fmt.Errorf("llmtest: no scripted reply for call %d", len(s.Calls))
}

// CallCount returns the number of Generate calls so far.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
