package cardstore

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

	"github.com/google/uuid"
	"github.com/kiwari-pos/kanban/internal/auth"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"github.com/kiwari-pos/kanban/internal/service"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	serviceTokenTTL = 5 * time.Minute
	maxErrorBody    = 4 << 10
)

// HTTPConfig configures the remote card store and compose service clients.
type HTTPConfig struct {
	BaseURL     string
	TokenSecret string // empty disables the Authorization header
	TenantID    uuid.UUID
	CompanyID   uuid.UUID
	Timeout     time.Duration
	Breaker     BreakerConfig
}

// client is the shared HTTP plumbing of HTTPStore and HTTPComposer.
type client struct {
	baseURL   string
	secret    string
	tenantID  uuid.UUID
	companyID uuid.UUID
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
}

func newClient(name string, cfg HTTPConfig, logger *zap.Logger) *client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := cfg.Breaker
	if breaker == (BreakerConfig{}) {
		breaker = DefaultBreakerConfig()
	}
	return &client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secret:    cfg.TokenSecret,
		tenantID:  cfg.TenantID,
		companyID: cfg.CompanyID,
		http:      &http.Client{Timeout: timeout},
		breaker:   newBreaker(name, breaker, logger),
		logger:    logger.With(zap.String("remote", name)),
	}
}

// do sends one request and returns the status and body. Network failures
// come back as *TransportError; status handling is left to the caller.
func (c *client) do(ctx context.Context, op, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req); err != nil {
		return 0, nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, data, nil
}

// authorize mints a service token for the request's tenant. The tenant in
// the request scope wins over the configured default.
func (c *client) authorize(ctx context.Context, req *http.Request) error {
	if c.secret == "" {
		return nil
	}
	tenantID, companyID := c.tenantID, c.companyID
	if s, ok := service.ScopeFromContext(ctx); ok && s.TenantID != uuid.Nil {
		tenantID, companyID = s.TenantID, s.CompanyID
	}
	token, err := auth.GenerateServiceToken(c.secret, tenantID, companyID, serviceTokenTTL)
	if err != nil {
		return fmt.Errorf("sign service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func statusError(op string, status int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
}

// --- Card store ---

// HTTPStore talks to the remote card store API.
type HTTPStore struct {
	c *client
}

// NewHTTPStore creates a card store client.
func NewHTTPStore(cfg HTTPConfig, logger *zap.Logger) *HTTPStore {
	return &HTTPStore{c: newClient("card-store", cfg, logger)}
}

// FetchCards returns the raw records of one bucket.
func (s *HTTPStore) FetchCards(ctx context.Context, bucket string) ([]kanban.RawCard, error) {
	op := "fetch " + bucket
	return execute(s.c.breaker, op, func() ([]kanban.RawCard, error) {
		status, body, err := s.c.do(ctx, op, http.MethodGet, "/kanban/cards/"+url.PathEscape(bucket), nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, statusError(op, status, body)
		}
		var cards []kanban.RawCard
		if err := json.Unmarshal(body, &cards); err != nil {
			return nil, &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode cards: %w", err)}
		}
		return cards, nil
	})
}

// Transition posts event to the card. A 400 or 409 reply means the card is
// not in the event's required status.
func (s *HTTPStore) Transition(ctx context.Context, id kanban.CardID, event kanban.Event) error {
	op := event.Verb()
	path := fmt.Sprintf("/kanban/cards/%s/event/%s", url.PathEscape(string(id)), op)

	_, err := execute(s.c.breaker, op, func() (struct{}, error) {
		status, body, err := s.c.do(ctx, op, http.MethodPost, path, nil)
		if err != nil {
			return struct{}{}, err
		}
		switch {
		case status >= 200 && status < 300:
			return struct{}{}, nil
		case status == http.StatusBadRequest || status == http.StatusConflict:
			return struct{}{}, &kanban.TransitionError{CardID: id, Event: event, Remote: true}
		case status == http.StatusNotFound:
			return struct{}{}, fmt.Errorf("%w: %s", ErrCardNotFound, id)
		}
		return struct{}{}, statusError(op, status, body)
	})
	if err != nil {
		s.c.logger.Debug("transition failed", zap.String("card_id", string(id)), zap.String("event", string(event)), zap.Error(err))
	}
	return err
}

// --- Compose service ---

// HTTPComposer asks the remote compose service to generate an order email.
type HTTPComposer struct {
	c *client
}

// NewHTTPComposer creates a compose service client.
func NewHTTPComposer(cfg HTTPConfig, logger *zap.Logger) *HTTPComposer {
	return &HTTPComposer{c: newClient("compose", cfg, logger)}
}

type composeResponse struct {
	Success bool   `json:"success"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Error   string `json:"error"`
}

// Compose implements service.Composer.
func (h *HTTPComposer) Compose(ctx context.Context, req service.ComposeRequest) (*service.ComposeResult, error) {
	const op = "compose email"
	return execute(h.c.breaker, op, func() (*service.ComposeResult, error) {
		status, body, err := h.c.do(ctx, op, http.MethodPost, "/email/generate", req)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, statusError(op, status, body)
		}
		var resp composeResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
		}
		if !resp.Success {
			return nil, fmt.Errorf("compose service: %s", resp.Error)
		}
		return &service.ComposeResult{Subject: resp.Subject, Body: resp.Body}, nil
	})
}
