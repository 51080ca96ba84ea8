// Package remote implements the collection persistence contract over the
// linkdeck HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"linkdeck/internal/collection"
	"linkdeck/internal/export"
	"linkdeck/internal/field"
	"linkdeck/internal/gitrepo"
	"linkdeck/internal/kinds"
	"linkdeck/internal/search"
)

var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: %s: %s", e.Code, e.Message)
}

// Unwrap exposes the engine error a response stands for, so callers can use
// errors.As across the wire.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "VALIDATION_ERROR":
		var fields map[string]string
		if err := json.Unmarshal(e.Details, &fields); err != nil || len(fields) == 0 {
			return nil
		}
		return &field.ValidationError{Fields: fields}
	case "LIMIT_EXCEEDED":
		var details struct {
			Kind string `json:"kind"`
			Max  int    `json:"max"`
		}
		if err := json.Unmarshal(e.Details, &details); err != nil {
			return nil
		}
		return &collection.LimitExceededError{Kind: details.Kind, Max: details.Max}
	case "NOT_FOUND":
		return collection.ErrNotFound
	}
	return nil
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.http.Timeout = timeout }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoginResult is the session issued by the API.
type LoginResult struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"`
}

// Login exchanges a display name for a bearer token, which the client keeps
// for later calls.
func (c *Client) Login(ctx context.Context, name string) (LoginResult, error) {
	return c.LoginWithPassword(ctx, name, "")
}

// LoginWithPassword is Login for admin names guarded by a password.
func (c *Client) LoginWithPassword(ctx context.Context, name, password string) (LoginResult, error) {
	body := map[string]string{"name": name}
	if password != "" {
		body["password"] = password
	}
	var out LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/session/login", body, &out); err != nil {
		return LoginResult{}, err
	}
	c.token = out.Token
	return out, nil
}

// Session returns the user behind the client's token.
func (c *Client) Session(ctx context.Context) (LoginResult, error) {
	var out struct {
		Authenticated bool   `json:"authenticated"`
		UserID        string `json:"userId"`
		UserName      string `json:"userName"`
		Role          string `json:"role"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/session", nil, &out); err != nil {
		return LoginResult{}, err
	}
	if !out.Authenticated {
		return LoginResult{}, ErrNotLoggedIn
	}
	return LoginResult{Token: c.token, UserID: out.UserID, UserName: out.UserName, Role: out.Role}, nil
}

func (c *Client) Token() string {
	return c.token
}

func (c *Client) Kinds(ctx context.Context) ([]kinds.Info, error) {
	var out struct {
		Kinds []kinds.Info `json:"kinds"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/kinds", nil, &out); err != nil {
		return nil, err
	}
	return out.Kinds, nil
}

func itemsPath(scope collection.Scope) string {
	return "/api/collections/" + url.PathEscape(scope.Kind) + "/" + url.PathEscape(scope.Key) + "/items"
}

func (c *Client) List(ctx context.Context, scope collection.Scope) ([]collection.Item, error) {
	var out struct {
		Items []collection.Item `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, itemsPath(scope), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) Create(ctx context.Context, scope collection.Scope, fields map[string]string) (collection.Item, error) {
	var out struct {
		Item collection.Item `json:"item"`
	}
	if err := c.do(ctx, http.MethodPost, itemsPath(scope), map[string]any{"fields": fields}, &out); err != nil {
		return collection.Item{}, err
	}
	return out.Item, nil
}

func (c *Client) Update(ctx context.Context, scope collection.Scope, id string, fields map[string]string) (collection.Item, error) {
	var out struct {
		Item collection.Item `json:"item"`
	}
	if err := c.do(ctx, http.MethodPut, itemsPath(scope)+"/"+url.PathEscape(id), map[string]any{"fields": fields}, &out); err != nil {
		return collection.Item{}, err
	}
	return out.Item, nil
}

func (c *Client) Delete(ctx context.Context, scope collection.Scope, id string) error {
	return c.do(ctx, http.MethodDelete, itemsPath(scope)+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Reorder(ctx context.Context, scope collection.Scope, ids []string) error {
	path := "/api/collections/" + url.PathEscape(scope.Kind) + "/" + url.PathEscape(scope.Key) + "/order"
	return c.do(ctx, http.MethodPut, path, map[string]any{"ids": ids}, nil)
}

func (c *Client) Search(ctx context.Context, text, kind, scopeKey string) (search.Response, error) {
	params := url.Values{}
	params.Set("q", text)
	if kind != "" {
		params.Set("kind", kind)
	}
	if scopeKey != "" {
		params.Set("scope", scopeKey)
	}
	var out search.Response
	if err := c.do(ctx, http.MethodGet, "/api/search?"+params.Encode(), nil, &out); err != nil {
		return search.Response{}, err
	}
	return out, nil
}

// Publish uploads the public profile of userID and returns its object key.
func (c *Client) Publish(ctx context.Context, userID string) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/profiles/"+url.PathEscape(userID)+"/publish", nil, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// History lists the published versions of userID's profile.
func (c *Client) History(ctx context.Context, userID string, limit int) ([]gitrepo.Commit, error) {
	path := "/api/profiles/" + url.PathEscape(userID) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Commits []gitrepo.Commit `json:"commits"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Commits, nil
}

// Export downloads the rendered profile of userID.
func (c *Client) Export(ctx context.Context, userID, format string) (*export.Result, error) {
	path := "/api/profiles/" + url.PathEscape(userID) + "/export?format=" + url.QueryEscape(format)
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	filename := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	return &export.Result{Data: data, Filename: filename, MimeType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send performs the request and turns non-2xx responses into *APIError. The
// caller closes the body of a successful response.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp, nil
	}
	defer resp.Body.Close()
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Code    string          `json:"code"`
		Error   string          `json:"error"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Error
		apiErr.Details = envelope.Details
	}
	return nil, apiErr
}

var _ collection.Persistence = (*Client)(nil)
