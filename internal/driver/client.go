package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to the messaging driver's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	statusTimeout time.Duration
	groupsTimeout time.Duration
	sendTimeout   time.Duration
}

type Config struct {
	URL           string
	StatusTimeout time.Duration
	GroupsTimeout time.Duration
	SendTimeout   time.Duration
	// SendRatePerSec limits send_message/send_poll calls. <=0 disables it.
	SendRatePerSec int
}

func New(cfg Config) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		http:          &http.Client{},
		statusTimeout: cfg.StatusTimeout,
		groupsTimeout: cfg.GroupsTimeout,
		sendTimeout:   cfg.SendTimeout,
	}
	if c.statusTimeout <= 0 {
		c.statusTimeout = 2 * time.Second
	}
	if c.groupsTimeout <= 0 {
		c.groupsTimeout = 5 * time.Second
	}
	if c.sendTimeout <= 0 {
		c.sendTimeout = 30 * time.Second
	}
	if cfg.SendRatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendRatePerSec)
	}
	return c
}

func (c *Client) URL() string { return c.baseURL }

// StatusError is a non-200 answer from the driver.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("driver %s: HTTP %d: %s", e.Path, e.Code, e.Body)
}

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type statusResp struct {
	Ready bool `json:"ready"`
}

type groupsResp struct {
	Groups []Group `json:"groups"`
}

type sendMessageReq struct {
	Contact string `json:"contact"`
	Message string `json:"message"`
}

type sendPollReq struct {
	Contact  string   `json:"contact"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type sendPollResp struct {
	Method string `json:"method"`
}

// Ping succeeds when GET /status answers 200, regardless of readiness.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, c.statusTimeout, http.MethodGet, "/status", nil, nil)
}

// Ready reports the driver's own readiness flag from GET /status.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	var out statusResp
	if err := c.do(ctx, c.statusTimeout, http.MethodGet, "/status", nil, &out); err != nil {
		return false, err
	}
	return out.Ready, nil
}

func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var out groupsResp
	if err := c.do(ctx, c.groupsTimeout, http.MethodGet, "/get_groups", nil, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (c *Client) SendMessage(ctx context.Context, contact, message string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.do(ctx, c.sendTimeout, http.MethodPost, "/send_message", sendMessageReq{Contact: contact, Message: message}, nil)
}

// SendPoll returns the delivery method the driver reports.
func (c *Client) SendPoll(ctx context.Context, contact, question string, options []string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var out sendPollResp
	req := sendPollReq{Contact: contact, Question: question, Options: options}
	if err := c.do(ctx, c.sendTimeout, http.MethodPost, "/send_poll", req, &out); err != nil {
		return "", err
	}
	return out.Method, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("driver %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
