package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Mutation actions accepted by the queue, matching the remote API's
// verb mapping.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// TokenSource supplies the bearer credential attached to every remote
// call. The session provider implements it; tests use StaticToken.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed credential.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// resource describes one syncable resource type: its URL path segment
// and the payload field carrying the id-or-code used in item paths.
type resource struct {
	plural   string
	keyField string
}

var resources = map[string]resource{
	"resident":  {plural: "residents", keyField: "id"},
	"household": {plural: "households", keyField: "code"},
	"user":      {plural: "users", keyField: "id"},
}

// Client performs the remote mutation for a single outbox item.
type Client struct {
	// BaseURL is the backend root, e.g. "https://api.citizenly.ph".
	BaseURL string

	// Tokens supplies the bearer credential per call.
	Tokens TokenSource

	// HTTPClient is the underlying transport. Nil means a client with
	// a 30s timeout.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// endpointFor resolves the HTTP verb and path for an (action, resource
// type) pair:
//
//	CREATE  POST    /api/<plural>
//	UPDATE  PUT     /api/<plural>/<id-or-code>
//	DELETE  DELETE  /api/<plural>/<id-or-code>
func endpointFor(action, resourceType string, payload json.RawMessage) (method, path string, err error) {
	res, ok := resources[resourceType]
	if !ok {
		return "", "", fmt.Errorf("unknown resource type %q", resourceType)
	}

	switch action {
	case ActionCreate:
		return http.MethodPost, "/api/" + res.plural, nil
	case ActionUpdate, ActionDelete:
		key, err := payloadKey(payload, res.keyField)
		if err != nil {
			return "", "", fmt.Errorf("%s %s: %w", action, resourceType, err)
		}
		method := http.MethodPut
		if action == ActionDelete {
			method = http.MethodDelete
		}
		return method, "/api/" + res.plural + "/" + key, nil
	default:
		return "", "", fmt.Errorf("unknown action %q", action)
	}
}

// payloadKey extracts the id-or-code used in item paths.
func payloadKey(payload json.RawMessage, field string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	raw, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("payload missing %q", field)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw), nil
	}
	if s == "" {
		return "", fmt.Errorf("payload field %q is empty", field)
	}
	return s, nil
}

// Apply performs the remote call for one item. Any failure — endpoint
// resolution, missing credential, transport error, non-2xx status — is
// returned as an error; the caller counts it as a retryable item
// failure.
func (c *Client) Apply(ctx context.Context, action, resourceType string, payload json.RawMessage) error {
	method, path, err := endpointFor(action, resourceType, payload)
	if err != nil {
		return err
	}

	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain credential: %w", err)
	}
	if token == "" {
		return fmt.Errorf("no credential available")
	}

	var body io.Reader
	if action != ActionDelete {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body for the log line.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	return nil
}
