// Package mock provides a test double for the llm.Completer interface.
//
// Use Provider in unit tests to verify the Requests a caller builds and to
// feed controlled replies without a live model.
//
// Example:
//
//	p := &mock.Provider{Response: &llm.Response{Content: "Hello!"}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxface/pkg/provider/llm"
)

// Ensure Provider implements llm.Completer at compile time.
var _ llm.Completer = (*Provider)(nil)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.Request
}

// Provider is a mock implementation of llm.Completer.
// A nil Response and nil Err make Complete return (nil, nil).
type Provider struct {
	mu sync.Mutex

	// Response is returned by Complete.
	Response *llm.Response

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	calls []CompleteCall
}

// Complete records the call and returns Response, Err.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, CompleteCall{Ctx: ctx, Req: req})
	return p.Response, p.Err
}

// Calls returns every invocation of Complete so far, in order.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.calls...)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
