// Package couch is a minimal client for the CouchDB document API used by
// replication: database creation, single-document reads and writes, and the
// incremental change feed.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read for diagnostics.
const maxErrorBody = 64 << 10

// Client talks to one database on a CouchDB-compatible server.
type Client struct {
	http     *http.Client
	dbURL    string
	username string
	password string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBasicAuth sends basic auth on every request. Credentials are only used
// when both username and password are non-empty.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// New creates a client for database db on serverURL. serverURL may omit the
// scheme, in which case http:// is assumed.
func New(serverURL, db string, opts ...Option) *Client {
	c := &Client{
		http:  &http.Client{Timeout: DefaultTimeout},
		dbURL: strings.TrimRight(NormalizeURL(serverURL), "/") + "/" + url.PathEscape(db),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeURL prefixes http:// when rawURL has no scheme.
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	return "http://" + rawURL
}

// DatabaseURL returns the database endpoint the client talks to.
func (c *Client) DatabaseURL() string {
	return c.dbURL
}

// EnsureDB creates the database. An existing database (412) counts as
// success.
func (c *Client) EnsureDB(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPut, c.dbURL, nil)
	if err != nil {
		return fmt.Errorf("ensure db: %w", err)
	}
	defer drain(resp)

	if isSuccess(resp.StatusCode) || resp.StatusCode == http.StatusPreconditionFailed {
		return nil
	}
	return statusError("ensure db", resp)
}

// Get fetches a document. found is false on 404. A 404 whose reason is
// "deleted" means the document exists as a tombstone; deleted reports that
// and doc then holds the tombstone body, so its updatedAt can be compared.
func (c *Client) Get(ctx context.Context, id string) (doc Document, found, deleted bool, err error) {
	resp, err := c.do(ctx, http.MethodGet, c.docURL(id), nil)
	if err != nil {
		return Document{}, false, false, fmt.Errorf("get %s: %w", id, err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		if se := statusError("get", resp); se.Reason != "deleted" {
			return Document{}, false, false, nil
		}
		tomb, err := c.tombstone(ctx, id)
		if err != nil {
			return Document{}, false, true, err
		}
		return tomb, false, true, nil
	}
	if !isSuccess(resp.StatusCode) {
		return Document{}, false, false, statusError("get", resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, false, false, fmt.Errorf("get %s: decode: %w", id, err)
	}
	return doc, true, false, nil
}

// tombstone reads the leaf revisions of a deleted document and returns the
// one with the latest updatedAt.
func (c *Client) tombstone(ctx context.Context, id string) (Document, error) {
	resp, err := c.do(ctx, http.MethodGet, c.docURL(id)+"?open_revs=all", nil)
	if err != nil {
		return Document{}, fmt.Errorf("get %s tombstone: %w", id, err)
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return Document{}, statusError("get tombstone", resp)
	}

	var leaves []struct {
		OK *Document `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&leaves); err != nil {
		return Document{}, fmt.Errorf("get %s tombstone: decode: %w", id, err)
	}

	latest := Document{ID: id, Deleted: true}
	for _, leaf := range leaves {
		if leaf.OK != nil && leaf.OK.UpdatedAt >= latest.UpdatedAt {
			latest = *leaf.OK
		}
	}
	latest.Deleted = true
	return latest, nil
}

// Put writes doc. doc.Rev must carry the current remote revision for an
// existing document; a stale or missing revision yields an error matching
// ErrConflict. Returns the new revision.
func (c *Client) Put(ctx context.Context, doc Document) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("put %s: encode: %w", doc.ID, err)
	}

	resp, err := c.do(ctx, http.MethodPut, c.docURL(doc.ID), body)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", doc.ID, err)
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return "", statusError("put", resp)
	}

	var result struct {
		OK  bool   `json:"ok"`
		ID  string `json:"id"`
		Rev string `json:"rev"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("put %s: decode: %w", doc.ID, err)
	}
	return result.Rev, nil
}

// Changes reads the change feed since the given position with documents
// included, in a single request.
func (c *Client) Changes(ctx context.Context, since string) (ChangesResponse, error) {
	q := url.Values{}
	q.Set("include_docs", "true")
	q.Set("since", since)

	resp, err := c.do(ctx, http.MethodGet, c.dbURL+"/_changes?"+q.Encode(), nil)
	if err != nil {
		return ChangesResponse{}, fmt.Errorf("changes: %w", err)
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return ChangesResponse{}, statusError("changes", resp)
	}

	var changes ChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return ChangesResponse{}, fmt.Errorf("changes: decode: %w", err)
	}
	if changes.Results == nil {
		changes.Results = []Change{}
	}
	return changes, nil
}

func (c *Client) docURL(id string) string {
	return c.dbURL + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	return c.http.Do(req)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// statusError reads the CouchDB error body of resp.
func statusError(op string, resp *http.Response) *StatusError {
	se := &StatusError{Op: op, Code: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return se
	}

	var body struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if json.Unmarshal(data, &body) == nil {
		se.ErrorName = body.Error
		se.Reason = body.Reason
	} else {
		se.Reason = strings.TrimSpace(string(data))
	}
	return se
}

// drain discards the rest of the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
