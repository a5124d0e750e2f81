package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iudanet/jobsync/pkg/api"
)

//go:generate moq -out tokensource_mock.go . TokenSource

// TokenSource supplies the bearer token for requests. An empty token means
// the user is not signed in.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	baseURL    string
}

// NewClient создает новый API клиент.
// tokens may be nil for endpoints that need no authentication.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

func entityPath(entity string, parts ...string) string {
	p := api.PathPrefix + url.PathEscape(entity)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// Fetch returns records changed after since; since=0 fetches everything
func (c *Client) Fetch(ctx context.Context, entity string, since int64) (*api.FetchResponse, error) {
	path := entityPath(entity)
	if since > 0 {
		path += "?since=" + strconv.FormatInt(since, 10)
	}

	var resp api.FetchResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", entity, err)
	}
	return &resp, nil
}

// Upsert creates or replaces a single record
func (c *Client) Upsert(ctx context.Context, entity string, item json.RawMessage) (*api.UpsertResponse, error) {
	var resp api.UpsertResponse
	if err := c.doRequest(ctx, http.MethodPost, entityPath(entity), item, &resp, true); err != nil {
		return nil, fmt.Errorf("upsert %s failed: %w", entity, err)
	}
	return &resp, nil
}

// BatchSync upserts many records at once
func (c *Client) BatchSync(ctx context.Context, entity string, req api.BatchSyncRequest) (*api.BatchSyncResponse, error) {
	var resp api.BatchSyncResponse
	if err := c.doRequest(ctx, http.MethodPost, entityPath(entity, "sync"), req, &resp, true); err != nil {
		return nil, fmt.Errorf("batch sync %s failed: %w", entity, err)
	}
	return &resp, nil
}

// Delete removes a record on the server. A record the server does not know
// counts as deleted.
func (c *Client) Delete(ctx context.Context, entity, id string) error {
	err := c.doRequest(ctx, http.MethodDelete, entityPath(entity, id), nil, nil, true)
	if err != nil && !IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("delete %s/%s failed: %w", entity, id, err)
	}
	return nil
}

// Health probes the server without authentication
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, api.PathHealth, nil, &resp, false); err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth {
		if err := c.authorize(ctx, req); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(respBody))}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && (errResp.Message != "" || errResp.Error != "") {
			se.Message = errResp.Error
			if errResp.Message != "" {
				se.Message = errResp.Message
			}
		}
		return se
	}

	// Декодируем успешный ответ
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokens == nil {
		return ErrUnauthenticated
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return err
		}
		return fmt.Errorf("failed to get access token: %w", err)
	}
	if token == "" {
		return ErrUnauthenticated
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
