package fiduciarygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client is the Fiduciary Gate SDK client. It communicates with the
// governance API to evaluate proposed transactions before the agent
// executes them, and manages per-session nonce sequencing so callers
// never build replay-protection state by hand.
type Client struct {
	serverAddr string
	failMode   string
	timeout    time.Duration
	httpClient *http.Client
	modality   Modality

	// Nonce tracking: last accepted nonce per session, serialized per
	// session because the server rejects gaps as well as repeats.
	nonceMu sync.Mutex
	nonces  map[string]uint64
	locks   sync.Map

	logger *slog.Logger
}

// NewClient creates a new Fiduciary Gate SDK client.
// It reads configuration from FIDUCIARY_GATE_* environment variables by
// default. Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr: os.Getenv("FIDUCIARY_GATE_SERVER_ADDR"),
		failMode:   envOrDefault("FIDUCIARY_GATE_FAIL_MODE", "closed"),
		timeout:    parseDurationEnv("FIDUCIARY_GATE_TIMEOUT", 5*time.Second),
		modality:   ModalityHumanNotPresent,
		nonces:     make(map[string]uint64),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// IssueSession creates a new delegation session and seeds the client's
// nonce tracking for it.
func (c *Client) IssueSession(ctx context.Context, req IssueSessionRequest) (*Session, error) {
	var sess Session
	if err := c.doRequest(ctx, http.MethodPost, "/v1/sessions", req, &sess); err != nil {
		return nil, err
	}

	c.nonceMu.Lock()
	c.nonces[sess.ID] = sess.Nonce
	c.nonceMu.Unlock()

	return &sess, nil
}

// GetSession returns a session by ID.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := c.doRequest(ctx, http.MethodGet, "/v1/sessions/"+id, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// RevokeSession revokes a session. The user's kill switch: the server
// terminates the session's circuit breaker immediately.
func (c *Client) RevokeSession(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/v1/sessions/"+id, nil, nil)
}

// Evaluate submits a proposed transaction for governance evaluation.
//
// On ALLOW it returns the response. On BLOCK it returns a
// *TransactionBlockedError carrying the breaker state and any pending
// escalation. On server unreachable with fail mode "open" it returns an
// allow response; with the default "closed" it returns a
// *ServerUnreachableError.
//
// When req.Nonce is zero the client supplies the next nonce for the
// session, serializing concurrent evaluations on the same session. After
// a rejected replay (for example another client advanced the session) the
// tracker resynchronizes from the server before the error is returned.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	if req.Modality == "" {
		req.Modality = c.modality
	}

	if req.Nonce == 0 {
		unlock := c.lockSession(req.SessionID)
		defer unlock()
		req.Nonce = c.nextNonce(req.SessionID)
	}

	resp, err := c.doEvaluate(ctx, req)
	if err != nil {
		if isConnectionError(err) {
			if c.failMode == "open" {
				c.logger.Warn("Fiduciary Gate server unreachable, failing open",
					"server_addr", c.serverAddr,
					"error", err,
				)
				return &EvaluateResponse{
					Decision: DecisionAllow,
					Reason:   "server unreachable, fail-open",
				}, nil
			}
			return nil, &ServerUnreachableError{Cause: err}
		}
		return nil, err
	}

	c.observeNonce(ctx, req.SessionID, req.Nonce, resp)

	if resp.Decision == DecisionBlock {
		return nil, &TransactionBlockedError{
			State:        resp.State,
			Reason:       resp.Reason,
			EvaluationID: resp.EvaluationID,
			EscalationID: resp.EscalationID,
			Response:     resp,
		}
	}
	return resp, nil
}

// Check is a convenience method that evaluates a transaction and returns
// a boolean. It returns true if the transaction is allowed, false if
// blocked. Unlike Evaluate, it does not return an error on a block.
func (c *Client) Check(ctx context.Context, req EvaluateRequest) (bool, error) {
	resp, err := c.Evaluate(ctx, req)
	if err != nil {
		var blocked *TransactionBlockedError
		if errors.As(err, &blocked) {
			return false, nil
		}
		return false, err
	}
	return resp.Decision == DecisionAllow, nil
}

// Preview evaluates the session's spending rules against a prospective
// transaction without consuming a nonce, advancing counters, or touching
// breaker state.
func (c *Client) Preview(ctx context.Context, req EvaluateRequest) ([]ConditionResult, error) {
	var resp PreviewResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/governance/preview", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// doEvaluate sends the HTTP request to the evaluation endpoint.
func (c *Client) doEvaluate(ctx context.Context, req EvaluateRequest) (*EvaluateResponse, error) {
	var resp EvaluateResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/governance/evaluate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// observeNonce records a consumed nonce. The server consumes the nonce on
// every evaluation it actually ran, including blocks; session-level
// rejections (replay, expiry, revocation) leave it untouched. On a replay
// rejection the tracker resynchronizes from the server.
func (c *Client) observeNonce(ctx context.Context, sessionID string, nonce uint64, resp *EvaluateResponse) {
	switch resp.ReasonCode {
	case ReasonCodeNonceReplay:
		if sess, err := c.GetSession(ctx, sessionID); err == nil {
			c.nonceMu.Lock()
			c.nonces[sessionID] = sess.Nonce
			c.nonceMu.Unlock()
		}
	case ReasonCodeSessionExpired, ReasonCodeSessionRevoked:
		// Not consumed, nothing to record.
	default:
		c.nonceMu.Lock()
		if nonce > c.nonces[sessionID] {
			c.nonces[sessionID] = nonce
		}
		c.nonceMu.Unlock()
	}
}

// nextNonce returns the next nonce to present for the session. Caller
// holds the session lock.
func (c *Client) nextNonce(sessionID string) uint64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	return c.nonces[sessionID] + 1
}

// lockSession acquires the per-session mutex and returns its release
// func.
func (c *Client) lockSession(id string) func() {
	v, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// doRequest performs an HTTP request to the Fiduciary Gate server.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	url := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &APIError{
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// isConnectionError determines if an error is a connection-level error
// (server unreachable, connection refused, timeout, etc.).
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	// HTTP errors came from a reachable server.
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}

	// All other errors from http.Client.Do are connection errors
	// (DNS resolution, connection refused, TLS handshake, timeouts).
	return true
}

// Helper functions for env var parsing.

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Try parsing as seconds (integer).
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Try parsing as duration string.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
