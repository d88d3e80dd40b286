package metadata

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/metasync/metasync/internal/transport"
)

// MockClient is a test double for the Runner interface. Responses are
// queued per operation type; the last queued response for a type is reused
// once the queue is drained.
type MockClient struct {
	mu        sync.Mutex
	responses map[string][]*Response

	Err error

	// Track calls
	Requests []Request
}

// On queues resp for requests of the given type.
func (m *MockClient) On(opType string, resp *Response) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses == nil {
		m.responses = make(map[string][]*Response)
	}
	m.responses[opType] = append(m.responses[opType], resp)
	return m
}

func (m *MockClient) V1(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}

	queue := m.responses[req.Type]
	switch len(queue) {
	case 0:
		return Success(), nil
	case 1:
		return queue[0], nil
	default:
		m.responses[req.Type] = queue[1:]
		return queue[0], nil
	}
}

func (m *MockClient) Bulk(ctx context.Context, reqs ...Request) (*Response, error) {
	return m.V1(ctx, Request{Type: OpBulk, Args: reqs})
}

// Types returns the type of every recorded request, in order.
func (m *MockClient) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Requests))
	for i, r := range m.Requests {
		out[i] = r.Type
	}
	return out
}

// Last returns the last recorded request of the given type.
func (m *MockClient) Last(opType string) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Requests) - 1; i >= 0; i-- {
		if m.Requests[i].Type == opType {
			return m.Requests[i], true
		}
	}
	return Request{}, false
}

// Count returns how many requests of the given type were recorded.
func (m *MockClient) Count(opType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.Requests {
		if r.Type == opType {
			n++
		}
	}
	return n
}

// Success builds the generic {"message":"success"} response.
func Success() *Response {
	return &Response{Raw: json.RawMessage(`{"message":"success"}`)}
}

// Body builds a success response with the given JSON body.
func Body(raw string) *Response {
	return &Response{Raw: json.RawMessage(raw)}
}

// Failure builds a logical failure response.
func Failure(code, message string) *Response {
	return &Response{Err: &transport.ServiceError{Code: code, Message: message}}
}
