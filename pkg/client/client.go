// Package client is a Go client for the revdoc HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Condition is the optimistic-concurrency precondition sent with a request.
// Revision goes into If-Match; Policy is "error" (default) or "last".
type Condition struct {
	Revision string
	Policy   string
}

// Ack is the server's answer to a create, replace or delete.
type Ack struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev"`
	Key string `json:"_key"`
}

// Document is a document as read from the server.
type Document struct {
	Ack
	Body map[string]any
}

// Collection describes a collection.
type Collection struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// APIError is an error response. For revision conflicts ID and Rev name the
// current revision.
type APIError struct {
	Code     int    `json:"code"`
	ErrorNum int    `json:"errorNum"`
	Message  string `json:"errorMessage"`
	ID       string `json:"_id,omitempty"`
	Rev      string `json:"_rev,omitempty"`
	Key      string `json:"_key,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("revdoc: %d/%d %s", e.Code, e.ErrorNum, e.Message)
}

// IsConflict reports whether err is a revision conflict.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == http.StatusPreconditionFailed
}

// IsNotFound reports whether err is an unknown collection or document.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == http.StatusNotFound
}

// A Client talks to one revdoc server.
type Client struct {
	base  string
	token string
	hc    *http.Client
}

// Option configures New.
type Option func(*Client)

// WithToken sends a bearer token with every request.
func WithToken(tok string) Option { return func(c *Client) { c.token = tok } }

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// New returns a client for the server at baseURL, e.g. http://localhost:8529.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{base: strings.TrimRight(baseURL, "/"), hc: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, cond *Condition, body any, out any) (http.Header, error) {
	u := c.base + path
	if cond != nil && cond.Policy != "" {
		if q == nil {
			q = url.Values{}
		}
		q.Set("policy", cond.Policy)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cond != nil && cond.Revision != "" {
		req.Header.Set("If-Match", `"`+cond.Revision+`"`)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		ae := &APIError{Code: resp.StatusCode}
		if len(data) > 0 {
			if err := json.Unmarshal(data, ae); err != nil {
				ae.Message = strings.TrimSpace(string(data))
			}
		}
		return resp.Header, ae
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}

func docPath(handle string) string {
	return "/_api/document/" + handle
}

// CreateDocument stores body in collection. A "_key" in body picks the key.
func (c *Client) CreateDocument(ctx context.Context, collection string, body map[string]any) (*Ack, error) {
	var ack Ack
	if body == nil {
		body = map[string]any{}
	}
	_, err := c.do(ctx, http.MethodPost, "/_api/document", url.Values{"collection": {collection}}, nil, body, &ack)
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

// GetDocument reads handle ("collection/key").
func (c *Client) GetDocument(ctx context.Context, handle string) (*Document, error) {
	var raw map[string]any
	if _, err := c.do(ctx, http.MethodGet, docPath(handle), nil, nil, nil, &raw); err != nil {
		return nil, err
	}
	d := &Document{Body: raw}
	d.ID, _ = raw["_id"].(string)
	d.Rev, _ = raw["_rev"].(string)
	d.Key, _ = raw["_key"].(string)
	delete(raw, "_id")
	delete(raw, "_rev")
	delete(raw, "_key")
	return d, nil
}

// ReplaceDocument replaces the payload of handle.
func (c *Client) ReplaceDocument(ctx context.Context, handle string, body map[string]any, cond Condition) (*Ack, error) {
	var ack Ack
	if body == nil {
		body = map[string]any{}
	}
	if _, err := c.do(ctx, http.MethodPut, docPath(handle), nil, &cond, body, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// DeleteDocument removes handle. The returned revision is the one that was
// current when it was removed.
func (c *Client) DeleteDocument(ctx context.Context, handle string, cond Condition) (*Ack, error) {
	var ack Ack
	if _, err := c.do(ctx, http.MethodDelete, docPath(handle), nil, &cond, nil, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *Client) CreateCollection(ctx context.Context, name string) (*Collection, error) {
	var col Collection
	if _, err := c.do(ctx, http.MethodPost, "/_api/collection", nil, nil, map[string]string{"name": name}, &col); err != nil {
		return nil, err
	}
	return &col, nil
}

// Count returns the number of documents in collection.
func (c *Client) Count(ctx context.Context, collection string) (int64, error) {
	var col Collection
	if _, err := c.do(ctx, http.MethodGet, "/_api/collection/"+url.PathEscape(collection)+"/count", nil, nil, nil, &col); err != nil {
		return 0, err
	}
	return col.Count, nil
}

func (c *Client) DropCollection(ctx context.Context, collection string) error {
	_, err := c.do(ctx, http.MethodDelete, "/_api/collection/"+url.PathEscape(collection), nil, nil, nil, nil)
	return err
}
