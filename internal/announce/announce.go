// Package announce registers a camera with a central server and keeps the
// registration alive with heartbeats.
package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cjeanneret/picast/internal/debug"
)

// DefaultTimeout bounds each request to the server.
const DefaultTimeout = 10 * time.Second

// Message is the JSON body of every request.
type Message struct {
	Name    string `json:"name"`
	Control string `json:"control,omitempty"` // where the server reaches this camera's control API
	Busy    bool   `json:"busy"`
}

// Client talks to the server at BaseURL:
//
//	POST {BaseURL}/register
//	POST {BaseURL}/heartbeat
//	POST {BaseURL}/deregister
//
// Any 2xx response is an acknowledgement.
type Client struct {
	BaseURL string
	Name    string
	Control string
	HTTP    *http.Client
	Busy    func() bool // reported in heartbeats; nil = never busy

	mu         sync.Mutex
	registered bool
}

// New creates a client with the default request timeout.
func New(baseURL, name, control string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Name:    name,
		Control: control,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

// Registered reports whether the last register or heartbeat was acknowledged.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *Client) setRegistered(v bool) {
	c.mu.Lock()
	c.registered = v
	c.mu.Unlock()
}

// Register announces the camera.
func (c *Client) Register(ctx context.Context) error {
	if err := c.post(ctx, "register"); err != nil {
		c.setRegistered(false)
		return err
	}
	c.setRegistered(true)
	debug.Info("Announce: registered %q with %s", c.Name, c.BaseURL)
	return nil
}

// Heartbeat tells the server the camera is alive. A camera that is not
// registered (or whose last heartbeat failed) registers again instead.
func (c *Client) Heartbeat(ctx context.Context) error {
	if !c.Registered() {
		return c.Register(ctx)
	}
	if err := c.post(ctx, "heartbeat"); err != nil {
		c.setRegistered(false)
		return err
	}
	debug.Trace("Announce: heartbeat acknowledged")
	return nil
}

// Deregister withdraws the camera. It is a no-op when not registered.
func (c *Client) Deregister(ctx context.Context) error {
	if !c.Registered() {
		return nil
	}
	c.setRegistered(false)
	if err := c.post(ctx, "deregister"); err != nil {
		return err
	}
	debug.Info("Announce: deregistered %q", c.Name)
	return nil
}

// Schedule runs Heartbeat on cr every interval. Failures are logged and
// retried on the next tick.
func (c *Client) Schedule(ctx context.Context, cr *cron.Cron, every time.Duration) cron.EntryID {
	return cr.Schedule(cron.Every(every), cron.FuncJob(func() {
		if err := c.Heartbeat(ctx); err != nil {
			debug.Warn("Announce: heartbeat failed: %v", err)
		}
	}))
}

func (c *Client) post(ctx context.Context, action string) error {
	msg := Message{Name: c.Name, Control: c.Control}
	if c.Busy != nil {
		msg.Busy = c.Busy()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}

	url := c.BaseURL + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: server returned status %d", action, resp.StatusCode)
	}
	return nil
}
