// Package hplapi is the fasthttp client for the remote scoring service.
package hplapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/hpl-runner/internal/domain"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry sets the attempt budget for idempotent reads. Launch, submit and
// guest creation are always sent once.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial overrides the connection dialer (tests use an in-memory listener).
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 15 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateGuest issues a new guest credential. launchToken is forwarded when
// the guest arrives through a share link; pass "" otherwise.
func (c *Client) CreateGuest(ctx context.Context, launchToken string) (domain.GuestCredentials, error) {
	req := CreateGuestRequest{Token: strings.TrimSpace(launchToken)}
	res := call[GuestPayload](ctx, c, fasthttp.MethodPost, pathGuestSession, "", req, false)
	if err := res.Err(OpCreateGuest); err != nil {
		return domain.GuestCredentials{}, err
	}
	g := res.Value
	if strings.TrimSpace(g.GuestID) == "" || strings.TrimSpace(g.AccessToken) == "" {
		return domain.GuestCredentials{}, &APIError{Op: OpCreateGuest, Kind: KindRejected, Status: res.Status, Message: "incomplete guest payload"}
	}
	return domain.GuestCredentials{GuestID: g.GuestID, AccessToken: g.AccessToken, ExpiresAt: g.ExpiresAt}, nil
}

// Launch opens a play session and returns its server-issued id.
func (c *Client) Launch(ctx context.Context, collectionID string, minigame domain.MinigameID, token string) (string, error) {
	req := LaunchRequest{CollectionID: collectionID, MinigameID: minigame.String()}
	res := call[LaunchResponse](ctx, c, fasthttp.MethodPost, pathLaunch, token, req, false)
	if err := res.Err(OpLaunch); err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Value.SessionID) == "" {
		return "", &APIError{Op: OpLaunch, Kind: KindRejected, Status: res.Status, Message: "missing sessionId"}
	}
	return res.Value.SessionID, nil
}

// SubmitScore posts the final score. The acknowledgement is returned as-is.
func (c *Client) SubmitScore(ctx context.Context, sessionID string, score int, answers []json.RawMessage, elapsedMs int64, token string) (json.RawMessage, error) {
	if answers == nil {
		answers = []json.RawMessage{}
	}
	req := SubmitRequest{Score: score, Answers: answers, ElapsedMs: elapsedMs}
	res := call[json.RawMessage](ctx, c, fasthttp.MethodPost, pathSubmit(sessionID), token, req, false)
	if err := res.Err(OpSubmit); err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID, token string) (SessionStatus, error) {
	res := call[SessionStatus](ctx, c, fasthttp.MethodGet, pathSession(sessionID), token, nil, true)
	if err := res.Err(OpGetSession); err != nil {
		return SessionStatus{}, err
	}
	return res.Value, nil
}

// NextGame tells the backend the player moved on from a finished session.
func (c *Client) NextGame(ctx context.Context, collectionID, sessionID, token string) error {
	res := call[json.RawMessage](ctx, c, fasthttp.MethodPost, pathNext(collectionID), token, NextGameRequest{SessionID: sessionID}, false)
	return res.Err(OpNextGame)
}

// Level fetches the raw level definition; its shape is minigame specific.
func (c *Client) Level(ctx context.Context, minigame domain.MinigameID, level int) (json.RawMessage, error) {
	path := pathLevels(minigame.Slug()) + "/" + strconv.Itoa(level)
	res := call[json.RawMessage](ctx, c, fasthttp.MethodGet, path, "", nil, true)
	if err := res.Err(OpLevels); err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (c *Client) Levels(ctx context.Context, minigame domain.MinigameID) ([]int, error) {
	res := call[[]int](ctx, c, fasthttp.MethodGet, pathLevels(minigame.Slug()), "", nil, true)
	if err := res.Err(OpLevels); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// call performs one request and narrows the response. Transport failures
// become KindTransport results.
func call[T any](ctx context.Context, c *Client, method, path, token string, in any, retry bool) Result[T] {
	status, body, err := c.do(ctx, method, path, token, in, retry)
	if err != nil {
		return Result[T]{Kind: KindTransport, cause: err}
	}
	return narrow[T](status, body)
}

func (c *Client) do(ctx context.Context, method, path, token string, in any, retry bool) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	// escape 된 %2F 가 '/' 로 풀리지 않도록
	req.URI().DisablePathNormalizing = true
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	if t := strings.TrimSpace(token); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry {
		attempts = c.retryMax
		if attempts <= 0 {
			attempts = 1
		}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			if attempt == attempts {
				return 0, nil, fmt.Errorf("request failed: %w", err)
			}
			lastErr = err
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return 0, nil, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if attempt < attempts && shouldRetryStatus(status) {
			lastErr = fmt.Errorf("status %d", status)
			if sleepErr := c.sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return 0, nil, lastErr
			}
			continue
		}
		body := append([]byte(nil), resp.Body()...)
		return status, body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return 0, nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
