// Package testutil provides testing utilities for the Slack client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// MockResponse defines one scripted reply of a mock Slack method.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// RecordedRequest is a request received by the mock server.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	// Params holds the query string for GET and the form body for POST.
	Params url.Values
}

// Param returns a single request parameter.
func (r RecordedRequest) Param(key string) string {
	return r.Params.Get(key)
}

// MockSlack is a scripted Slack Web API server for testing. Each method
// replays its queued responses in order and repeats the last one once the
// queue is drained.
type MockSlack struct {
	server *httptest.Server
	mu     sync.Mutex
	queues map[string][]MockResponse

	requests []RecordedRequest
}

// NewMockSlack creates a new mock Slack server.
func NewMockSlack() *MockSlack {
	mock := &MockSlack{
		queues: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock API root, usable as client BaseURL.
func (m *MockSlack) URL() string {
	return m.server.URL + "/api"
}

// Close shuts down the mock server.
func (m *MockSlack) Close() {
	m.server.Close()
}

// Enqueue appends scripted responses for a Slack method, e.g. conversations.history.
func (m *MockSlack) Enqueue(method string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[method] = append(m.queues[method], responses...)
}

// Requests returns all requests received so far, in order.
func (m *MockSlack) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsFor returns the requests received for one Slack method.
func (m *MockSlack) RequestsFor(method string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Path == "/api/"+method {
			out = append(out, r)
		}
	}
	return out
}

// RequestCount returns the number of requests received.
func (m *MockSlack) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockSlack) handle(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		if form, err := url.ParseQuery(string(body)); err == nil {
			params = form
		}
	}

	method := strings.TrimPrefix(r.URL.Path, "/api/")

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Params: params,
	})

	queue := m.queues[method]
	var resp MockResponse
	switch {
	case len(queue) == 0:
		resp = ErrorResponse("unknown_method")
	case len(queue) == 1:
		resp = queue[0]
	default:
		resp = queue[0]
		m.queues[method] = queue[1:]
	}
	m.mu.Unlock()

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// OKResponse creates an ok=true response whose top-level fields are merged
// from fields.
func OKResponse(fields map[string]any) MockResponse {
	body := map[string]any{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	return jsonResponse(http.StatusOK, body)
}

// PageResponse creates an ok=true page of a paginated method. An empty cursor
// marks the last page.
func PageResponse(key string, items []any, nextCursor string) MockResponse {
	fields := map[string]any{key: items}
	if nextCursor != "" {
		fields["has_more"] = true
		fields["response_metadata"] = map[string]any{"next_cursor": nextCursor}
	} else {
		fields["has_more"] = false
	}
	return OKResponse(fields)
}

// ErrorResponse creates an ok=false response with the given Slack error code.
func ErrorResponse(code string) MockResponse {
	return jsonResponse(http.StatusOK, map[string]any{"ok": false, "error": code})
}

// RateLimitResponse creates a 429 response with a Retry-After in seconds.
func RateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"ok":false,"error":"ratelimited"}`,
		Headers: map[string]string{
			"Retry-After": fmt.Sprintf("%d", retryAfterSeconds),
		},
	}
}

// ServerErrorResponse creates a 500 Internal Server Error response.
func ServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `internal error`,
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}
}

// Message builds a Slack message object for scripted responses.
func Message(ts, user, text string) map[string]any {
	return map[string]any{"type": "message", "ts": ts, "user": user, "text": text}
}

// ThreadParent builds a message that has replies.
func ThreadParent(ts, user, text string, replies int) map[string]any {
	msg := Message(ts, user, text)
	msg["thread_ts"] = ts
	msg["reply_count"] = replies
	return msg
}

// Channel builds a Slack channel object for scripted responses.
func Channel(id, name string) map[string]any {
	return map[string]any{"id": id, "name": name, "is_channel": true}
}

func jsonResponse(status int, body any) MockResponse {
	data, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return MockResponse{StatusCode: status, Body: string(data)}
}
