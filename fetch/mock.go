package fetch

import (
	"context"
	"net/url"
	"sync"
	"time"
)

func mustParse(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return u
}

// MockRetriever is an in-memory Retriever for tests. Responses and errors
// are keyed by URL; GetFunc, when set, takes precedence over both.
type MockRetriever struct {
	mu        sync.Mutex
	Responses map[string]*Response
	Errors    map[string]*Error
	Delay     time.Duration
	GetFunc   func(ctx context.Context, rawURL string, opts Options) (*Response, error)
	calls     []string
}

func NewMockRetriever() *MockRetriever {
	return &MockRetriever{
		Responses: make(map[string]*Response),
		Errors:    make(map[string]*Error),
	}
}

// AddPage registers an HTML page; the body is parsed into a Document the
// same way HTTPRetriever would.
func (m *MockRetriever) AddPage(rawURL string, html string) error {
	doc, err := ParseDocument([]byte(html), mustParse(rawURL))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[rawURL] = &Response{
		URL:        rawURL,
		StatusCode: 200,
		Body:       []byte(html),
		Document:   doc,
		FetchedAt:  time.Now(),
	}
	return nil
}

func (m *MockRetriever) AddError(rawURL string, kind ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[rawURL] = NewError(kind, rawURL, nil)
}

func (m *MockRetriever) Get(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, rawURL)
	fn := m.GetFunc
	m.mu.Unlock()

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, NewError(KindTimeout, rawURL, ctx.Err())
		}
	}

	if fn != nil {
		return fn(ctx, rawURL, opts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors[rawURL]; ok {
		return nil, err
	}
	if resp, ok := m.Responses[rawURL]; ok {
		return resp, nil
	}
	return nil, NewError(KindHTTP4xx, rawURL, nil)
}

// Calls returns every requested URL in order.
func (m *MockRetriever) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how often rawURL was requested.
func (m *MockRetriever) CallCount(rawURL string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == rawURL {
			n++
		}
	}
	return n
}
