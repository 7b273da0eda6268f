package client

import (
	"bufio"
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

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client wraps the burrow HTTP API for CLI usage
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at addr ("host:port" or a URL)
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{},
	}
}

func (c *Client) path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.base + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns an error response back into an errdefs error
func decodeError(resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		body.Error = resp.Status
	}

	var class error
	switch resp.StatusCode {
	case http.StatusNotFound:
		class = errdefs.ErrNotFound
	case http.StatusConflict:
		class = errdefs.ErrAlreadyExists
	case http.StatusTooManyRequests:
		class = errdefs.ErrResourceExhausted
	case http.StatusBadRequest:
		class = errdefs.ErrInvalidArgument
	case http.StatusServiceUnavailable:
		class = errdefs.ErrUnavailable
	default:
		class = errdefs.ErrUnknown
	}
	return fmt.Errorf("%s: %w", body.Error, class)
}

// CreateApp creates an app
func (c *Client) CreateApp(ctx context.Context, app string) error {
	return c.do(ctx, http.MethodPut, c.path("apps", app), nil, nil)
}

// DeleteApp deletes an app
func (c *Client) DeleteApp(ctx context.Context, app string) error {
	return c.do(ctx, http.MethodDelete, c.path("apps", app), nil, nil)
}

// ListApps lists all apps
func (c *Client) ListApps(ctx context.Context) ([]string, error) {
	var apps []string
	err := c.do(ctx, http.MethodGet, c.path("apps"), nil, &apps)
	return apps, err
}

// CreateChannel creates a channel in app
func (c *Client) CreateChannel(ctx context.Context, app, ch string) error {
	return c.do(ctx, http.MethodPut, c.path("apps", app, "channels", ch), nil, nil)
}

// DeleteChannel deletes a channel
func (c *Client) DeleteChannel(ctx context.Context, app, ch string) error {
	return c.do(ctx, http.MethodDelete, c.path("apps", app, "channels", ch), nil, nil)
}

// ListChannels lists the channels of app
func (c *Client) ListChannels(ctx context.Context, app string) ([]string, error) {
	var channels []string
	err := c.do(ctx, http.MethodGet, c.path("apps", app, "channels"), nil, &channels)
	return channels, err
}

// PublishEvents publishes events as one batch
func (c *Client) PublishEvents(ctx context.Context, app, ch string, events []types.Event) error {
	if events == nil {
		events = []types.Event{}
	}
	return c.do(ctx, http.MethodPost, c.path("apps", app, "channels", ch, "events"), events, nil)
}

// GetEvents returns the full history of a channel
func (c *Client) GetEvents(ctx context.Context, app, ch string) ([]types.Event, error) {
	var events []types.Event
	err := c.do(ctx, http.MethodGet, c.path("apps", app, "channels", ch, "events"), nil, &events)
	return events, err
}

// CreateUser creates a user with a server-side mailbox
func (c *Client) CreateUser(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPut, c.path("users"), types.UserData{Name: name}, nil)
}

// DeleteUser deletes a user and all of its subscriptions
func (c *Client) DeleteUser(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.path("users", name), nil, nil)
}

// Subscribe subscribes a user to a channel
func (c *Client) Subscribe(ctx context.Context, name, app, ch string) error {
	return c.do(ctx, http.MethodPut, c.path("apps", app, "channels", ch, "subscriptions"), types.UserData{Name: name}, nil)
}

// Unsubscribe removes a user's subscription to a channel
func (c *Client) Unsubscribe(ctx context.Context, name, app, ch string) error {
	return c.do(ctx, http.MethodDelete, c.path("apps", app, "channels", ch, "subscriptions", name), nil, nil)
}

// Subscriptions lists the channels a user is subscribed to
func (c *Client) Subscriptions(ctx context.Context, name string) ([]types.ChannelRef, error) {
	var refs []types.ChannelRef
	err := c.do(ctx, http.MethodGet, c.path("users", name, "subscriptions"), nil, &refs)
	return refs, err
}

// Stream opens the user's event stream and calls fn for every delivered
// batch until ctx is done, fn returns an error, or the server ends the
// stream. A stream ended by the server returns nil.
func (c *Client) Stream(ctx context.Context, name string, fn func(types.Batch) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.path("users", name, "stream"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var event string
	var data []byte
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == api.EventBatch {
				var batch types.Batch
				if err := json.Unmarshal(data, &batch); err != nil {
					return fmt.Errorf("invalid batch frame: %w", err)
				}
				if err := fn(batch); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")...)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// Ready returns nil when the server reports ready
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.path("ready"), nil, nil)
}

// GRPCHealth queries the gRPC health endpoint at addr for the bus service
func GRPCHealth(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}
