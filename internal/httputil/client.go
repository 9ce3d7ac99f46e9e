// Package httputil holds the shared HTTP plumbing: JSON response helpers
// on the server side and a mockable client for the CLI tools.
package httputil

import (
	"io"
	"net/http"
	"strings"
	"sync"
)

// HTTPClient is the client surface the tools program against. Production
// code uses StandardClient; tests use MockHTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
	Get(url string) (*http.Response, error)
	Post(url, contentType string, body io.Reader) (*http.Response, error)
}

// StandardClient adapts *http.Client to HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, falling back to http.DefaultClient when nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// MockHTTPClient records requests and replays a queue of canned responses.
// When the queue is empty it answers 200 with an empty body, unless
// DefaultError is set, in which case every request fails with it.
type MockHTTPClient struct {
	mu           sync.Mutex
	requests     []*http.Request
	queue        []mockReply
	DefaultError error
}

type mockReply struct {
	status int
	body   string
	err    error
}

// NewMockHTTPClient creates an empty mock client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues one canned response.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{status: status, body: body})
	return m
}

// AddError queues one transport-level failure.
func (m *MockHTTPClient) AddError(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
	return m
}

// Do records req and returns the next queued reply.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.queue) == 0 {
		if m.DefaultError != nil {
			return nil, m.DefaultError
		}
		return mockResponse(req, http.StatusOK, ""), nil
	}

	next := m.queue[0]
	m.queue = m.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	return mockResponse(req, next.status, next.body), nil
}

func mockResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}
}

// Get issues a GET through Do.
func (m *MockHTTPClient) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return m.Do(req)
}

// Post issues a POST through Do.
func (m *MockHTTPClient) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return m.Do(req)
}

// GetRequest returns the nth recorded request, or nil when out of range.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestCount returns how many requests were recorded.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears recorded requests, the reply queue and DefaultError.
func (m *MockHTTPClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queue = nil
	m.DefaultError = nil
}
