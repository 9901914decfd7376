package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/focusflow/internal/focus/domain"
	"github.com/haukened/focusflow/internal/focus/gateways/control"
	"github.com/haukened/focusflow/internal/focus/services/scheduler"
)

const requestTimeout = 10 * time.Second

// client talks to the daemon's control API.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string) (*client, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid --addr %q: want a URL like http://127.0.0.1:7300", addr)
	}
	return &client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{Timeout: requestTimeout},
	}, nil
}

func (c *client) health(ctx context.Context) (control.HealthBody, error) {
	var body control.HealthBody
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &body)
	return body, err
}

func (c *client) setEnabled(ctx context.Context, enabled bool) (scheduler.Response, error) {
	return c.call(ctx, http.MethodPut, "/api/enabled", map[string]bool{"enabled": enabled})
}

func (c *client) block(ctx context.Context, name string) (scheduler.Response, error) {
	return c.call(ctx, http.MethodPost, "/api/domains", map[string]string{"domain": name})
}

func (c *client) unblock(ctx context.Context, name string, ruleID int) (scheduler.Response, error) {
	path, err := domainPath(name, "")
	if err != nil {
		return scheduler.Response{}, err
	}
	if ruleID > 0 {
		path += "?ruleId=" + strconv.Itoa(ruleID)
	}
	return c.call(ctx, http.MethodDelete, path, nil)
}

func (c *client) setSchedule(ctx context.Context, name string, s domain.BlockSchedule) (scheduler.Response, error) {
	path, err := domainPath(name, "/schedule")
	if err != nil {
		return scheduler.Response{}, err
	}
	return c.call(ctx, http.MethodPut, path, map[string]any{
		"alwaysOn":  s.AlwaysOn,
		"startTime": s.StartTime,
		"endTime":   s.EndTime,
	})
}

func (c *client) rules(ctx context.Context) (scheduler.Response, error) {
	return c.call(ctx, http.MethodGet, "/api/rules", nil)
}

func (c *client) check(ctx context.Context, name string) (scheduler.Response, error) {
	path, err := domainPath(name, "/check")
	if err != nil {
		return scheduler.Response{}, err
	}
	return c.call(ctx, http.MethodGet, path, nil)
}

func (c *client) setTimezone(ctx context.Context, tz string) (scheduler.Response, error) {
	return c.call(ctx, http.MethodPut, "/api/timezone", map[string]string{"timezone": tz})
}

func (c *client) usage(ctx context.Context) (scheduler.Response, error) {
	return c.call(ctx, http.MethodGet, "/api/usage", nil)
}

func (c *client) addUsage(ctx context.Context, name string, seconds int64) (scheduler.Response, error) {
	return c.call(ctx, http.MethodPost, "/api/usage", map[string]any{"domain": name, "seconds": seconds})
}

func (c *client) call(ctx context.Context, method, path string, in any) (scheduler.Response, error) {
	var resp scheduler.Response
	err := c.do(ctx, method, path, in, &resp)
	return resp, err
}

// do sends in as JSON and decodes a 2xx reply into out. Error replies are
// turned into errors carrying the daemon's message.
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var eb control.ErrorBody
		if err := json.NewDecoder(res.Body).Decode(&eb); err != nil || eb.Error == "" {
			return fmt.Errorf("daemon returned %s", res.Status)
		}
		return fmt.Errorf("daemon returned %s: %s", res.Status, eb.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// domainPath normalizes name locally so URLs and paths never end up in the
// route parameter.
func domainPath(name, suffix string) (string, error) {
	d, err := domain.NormalizeDomain(name)
	if err != nil {
		return "", err
	}
	return "/api/domains/" + url.PathEscape(d) + suffix, nil
}
