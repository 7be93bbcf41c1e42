package arbiter

import (
	"context"

	"github.com/credence-ai/credence/internal/domain"
)

// MockArbiter is a configurable arbiter for testing. Set the response fields
// to control what Resolve returns.
type MockArbiter struct {
	ResolveResponse domain.Action
	ResolveError    error
	Delay           func(ctx context.Context) error

	// Call tracking for assertions
	ResolveCalls []struct{ Existing, Candidate *domain.Fact }
}

func NewMockArbiter() *MockArbiter {
	return &MockArbiter{
		ResolveResponse: domain.ActionSupersede,
	}
}

func (a *MockArbiter) Resolve(ctx context.Context, existing, candidate *domain.Fact) (domain.Action, error) {
	a.ResolveCalls = append(a.ResolveCalls, struct{ Existing, Candidate *domain.Fact }{existing, candidate})
	if a.Delay != nil {
		if err := a.Delay(ctx); err != nil {
			return "", err
		}
	}
	if a.ResolveError != nil {
		return "", a.ResolveError
	}
	return a.ResolveResponse, nil
}
