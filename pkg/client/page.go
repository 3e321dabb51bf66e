package client

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/slack-go/slack"
)

// CursorParam is the request parameter carrying the pagination cursor.
const CursorParam = "cursor"

// Request is one Slack Web API call.
type Request struct {
	// Endpoint is the Slack method name, e.g. conversations.history.
	Endpoint string

	// HTTPMethod is GET or POST.
	HTTPMethod string

	// Params are the method arguments. Must not contain "cursor".
	Params map[string]string

	// Token is the bearer token sent in the Authorization header.
	Token string
}

// NewRequest creates a GET request.
func NewRequest(endpoint, token string, params map[string]string) Request {
	return Request{
		Endpoint:   endpoint,
		HTTPMethod: http.MethodGet,
		Params:     params,
		Token:      token,
	}
}

// Validate checks the request before any call is made.
func (r Request) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidRequest)
	}
	if r.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidRequest)
	}
	if r.HTTPMethod != http.MethodGet && r.HTTPMethod != http.MethodPost {
		return fmt.Errorf("%w: method %q", ErrInvalidRequest, r.HTTPMethod)
	}
	if _, ok := r.Params[CursorParam]; ok {
		return ErrCursorParam
	}
	return nil
}

// withCursor returns a copy of r whose params carry cursor. The caller's map
// is never modified.
func (r Request) withCursor(cursor string) Request {
	params := make(map[string]string, len(r.Params)+1)
	maps.Copy(params, r.Params)
	if cursor != "" {
		params[CursorParam] = cursor
	}
	r.Params = params
	return r
}

// values encodes params for the wire. url.Values.Encode sorts by key.
func (r Request) values() url.Values {
	v := make(url.Values, len(r.Params))
	for key, value := range r.Params {
		v.Set(key, value)
	}
	return v
}

// newHTTPRequest builds the HTTP request against baseURL.
func (r Request) newHTTPRequest(ctx context.Context, baseURL string) (*http.Request, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/" + r.Endpoint

	var req *http.Request
	var err error
	switch r.HTTPMethod {
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(r.values().Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		u := endpoint
		if len(r.Params) > 0 {
			u += "?" + r.values().Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+r.Token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Page is the decoded body of one Slack Web API response.
type Page struct {
	OK               bool
	Error            string
	Warning          string
	HasMore          bool
	ResponseMetadata slack.ResponseMetadata

	body *gabs.Container
}

// DecodePage parses a Slack response body. Bodies that are not a JSON object
// with a boolean "ok" field are rejected.
func DecodePage(data []byte) (*Page, error) {
	body, err := gabs.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse response body: %w", err)
	}
	if _, isObject := body.Data().(map[string]interface{}); !isObject {
		return nil, fmt.Errorf("response body is not a JSON object")
	}

	ok, isBool := body.Path("ok").Data().(bool)
	if !isBool {
		return nil, fmt.Errorf("response body has no boolean ok field")
	}

	page := &Page{
		OK:   ok,
		body: body,
	}
	page.Error, _ = body.Path("error").Data().(string)
	page.Warning, _ = body.Path("warning").Data().(string)
	page.HasMore, _ = body.Path("has_more").Data().(bool)

	if body.Exists("response_metadata") {
		if err := json.Unmarshal(body.Path("response_metadata").Bytes(), &page.ResponseMetadata); err != nil {
			return nil, fmt.Errorf("parse response_metadata: %w", err)
		}
	}

	return page, nil
}

// NextCursor returns the continuation token for the following page.
func (p *Page) NextCursor() string {
	return p.ResponseMetadata.Cursor
}

// Items returns the elements of the named result field in order. An object
// field (users.info "user", chat.postMessage "message") yields one item.
// A missing field yields none.
func (p *Page) Items(key string) []json.RawMessage {
	if p == nil || p.body == nil || !p.body.Exists(key) {
		return nil
	}

	field := p.body.Search(key)
	switch field.Data().(type) {
	case []interface{}:
		children := field.Children()
		items := make([]json.RawMessage, 0, len(children))
		for _, child := range children {
			items = append(items, json.RawMessage(child.Bytes()))
		}
		return items
	case map[string]interface{}:
		return []json.RawMessage{json.RawMessage(field.Bytes())}
	default:
		return nil
	}
}

// Decode unmarshals the named field into v.
func (p *Page) Decode(key string, v any) error {
	if p == nil || p.body == nil || !p.body.Exists(key) {
		return fmt.Errorf("response has no %q field", key)
	}
	if err := json.Unmarshal(p.body.Search(key).Bytes(), v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// FetchResult is the ordered list of pages returned by one Fetch.
type FetchResult []*Page

// Items flattens the named result field across pages, in page order and then
// in-page order.
func (r FetchResult) Items(key string) []json.RawMessage {
	var items []json.RawMessage
	for _, page := range r {
		items = append(items, page.Items(key)...)
	}
	return items
}

// DecodeItems flattens the named field across pages and decodes every item
// into T.
func DecodeItems[T any](r FetchResult, key string) ([]T, error) {
	raw := r.Items(key)
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return nil, fmt.Errorf("decode %s[%d]: %w", key, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
