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

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/sethvargo/go-retry"
)

// SessionHeader carries the vault session ID.
const SessionHeader = common.SessionHeaderName

// HTTPClient talks to one server. Token and session are fixed at
// construction; WithToken and WithSession return adjusted copies.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
	session    string
	retries    uint64
	retryBase  time.Duration
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retries:    3,
		retryBase:  200 * time.Millisecond,
	}
}

func (c *HTTPClient) WithToken(token string) *HTTPClient {
	cp := *c
	cp.token = token
	return &cp
}

func (c *HTTPClient) WithSession(sessionID string) *HTTPClient {
	cp := *c
	cp.session = sessionID
	return &cp
}

// WithRetry sets how often idempotent requests are retried on transport
// failures.
func (c *HTTPClient) WithRetry(retries uint64, base time.Duration) *HTTPClient {
	cp := *c
	cp.retries = retries
	cp.retryBase = base
	return &cp
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil)
}

func (c *HTTPClient) Status(ctx context.Context) (*CheckInStatus, error) {
	var out CheckInStatus
	if err := c.do(ctx, http.MethodGet, "/api/checkin/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Configure(ctx context.Context, cfg CheckInConfig) (*CheckInStatus, error) {
	var out CheckInStatus
	if err := c.do(ctx, http.MethodPut, "/api/checkin/config", cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CheckIn(ctx context.Context) (*CheckInStatus, error) {
	var out CheckInStatus
	if err := c.do(ctx, http.MethodPost, "/api/checkin/perform", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) UnlockRequests(ctx context.Context) ([]UnlockRequest, error) {
	var out []UnlockRequest
	if err := c.do(ctx, http.MethodGet, "/api/unlock-requests", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CancelRequest(ctx context.Context, requestID, reason string) (*UnlockRequest, error) {
	var out UnlockRequest
	path := "/api/unlock-requests/" + url.PathEscape(requestID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"reason": reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) SetupVault(ctx context.Context, password string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/api/vault/setup", map[string]string{"password": password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) OpenSession(ctx context.Context, password string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/api/vault/session", map[string]string{"password": password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RotateVMK returns how many item keys were re-wrapped.
func (c *HTTPClient) RotateVMK(ctx context.Context, password string) (int, error) {
	var out struct {
		Rewrapped int `json:"rewrapped"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/vault/rotate", map[string]string{"password": password}, &out); err != nil {
		return 0, err
	}
	return out.Rewrapped, nil
}

func (c *HTTPClient) CloseSession(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/vault/session", nil, nil)
}

func (c *HTTPClient) ItemKey(ctx context.Context, itemID string) (*ItemKey, error) {
	var out ItemKey
	if err := c.do(ctx, http.MethodGet, "/api/vault/items/"+url.PathEscape(itemID)+"/key", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) CreateItemKey(ctx context.Context, itemID string) (*ItemKey, error) {
	var out ItemKey
	if err := c.do(ctx, http.MethodPost, "/api/vault/items/"+url.PathEscape(itemID)+"/key", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Contacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	if err := c.do(ctx, http.MethodGet, "/api/trusted-contacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) AddContact(ctx context.Context, email string) (*Contact, error) {
	var out Contact
	if err := c.do(ctx, http.MethodPost, "/api/trusted-contacts", map[string]string{"email": email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) RemoveContact(ctx context.Context, contactID string) error {
	return c.do(ctx, http.MethodDelete, "/api/trusted-contacts/"+url.PathEscape(contactID), nil, nil)
}

func (c *HTTPClient) IssueShares(ctx context.Context) ([]Contact, error) {
	var out []Contact
	if err := c.do(ctx, http.MethodPost, "/api/trusted-contacts/shares", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) VerifyContact(ctx context.Context, token string) (*Verification, error) {
	var out Verification
	if err := c.do(ctx, http.MethodPost, "/api/trusted-contacts/verify", map[string]string{"token": token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitShare sends a share for contactID. An empty RequestID targets the
// owner's open request.
func (c *HTTPClient) SubmitShare(ctx context.Context, contactID string, share Share) (*ShareReceipt, error) {
	var out ShareReceipt
	path := "/api/trusted-contacts/" + url.PathEscape(contactID) + "/share"
	if err := c.do(ctx, http.MethodPost, path, share, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Recipients(ctx context.Context) ([]Recipient, error) {
	var out []Recipient
	if err := c.do(ctx, http.MethodGet, "/api/recipients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) AddRecipient(ctx context.Context, email string) (*Recipient, error) {
	var out Recipient
	if err := c.do(ctx, http.MethodPost, "/api/recipients", map[string]string{"email": email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) RecipientAccess(ctx context.Context, token string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/api/recipients/access", map[string]string{"token": token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one request. GET and DELETE are retried with exponential backoff
// while the server is unreachable; everything else is sent once.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	if method != http.MethodGet && method != http.MethodDelete {
		return c.send(ctx, method, path, body, out)
	}
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.send(ctx, method, path, body, out)
		if errors.Is(err, ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *HTTPClient) send(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)
	}
	if c.session != "" {
		req.Header.Set(SessionHeader, c.session)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		apiErr := &APIError{Status: resp.StatusCode, Message: e.Error}
		if errors.Is(apiErr, ErrUnavailable) {
			return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Error())
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
