package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/focusflow/internal/focus/domain"
	"github.com/haukened/focusflow/internal/focus/gateways/control"
)

type seenRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// fakeDaemon records every request and answers with a fixed status and body.
type fakeDaemon struct {
	mu     sync.Mutex
	seen   []seenRequest
	status int
	reply  any
}

func newFakeDaemon(t *testing.T, status int, reply any) (*fakeDaemon, string) {
	t.Helper()
	d := &fakeDaemon{status: status, reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
		d.mu.Lock()
		d.seen = append(d.seen, seenRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
		d.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(d.status)
		_ = json.NewEncoder(w).Encode(d.reply)
	}))
	t.Cleanup(srv.Close)
	return d, srv.URL
}

func (d *fakeDaemon) last(t *testing.T) seenRequest {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.seen, "no request reached the daemon")
	return d.seen[len(d.seen)-1]
}

func (d *fakeDaemon) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--addr", addr}, args...))
	err := root.Execute()
	return out.String(), err
}

func ptr[T any](v T) *T { return &v }

func TestCommands_SendExpectedRequests(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		method string
		path   string
		query  string
		body   map[string]any
		output string
	}{
		{
			name: "enable", args: []string{"enable"},
			method: http.MethodPut, path: "/api/enabled",
			body: map[string]any{"enabled": true}, output: "Blocking enabled\n",
		},
		{
			name: "disable without prompt", args: []string{"disable", "--yes"},
			method: http.MethodPut, path: "/api/enabled",
			body: map[string]any{"enabled": false}, output: "Blocking disabled\n",
		},
		{
			name: "block", args: []string{"block", "reddit.com"},
			method: http.MethodPost, path: "/api/domains",
			body: map[string]any{"domain": "reddit.com"}, output: "Blocked reddit.com\n",
		},
		{
			name: "unblock normalizes url", args: []string{"unblock", "https://www.reddit.com/r/golang"},
			method: http.MethodDelete, path: "/api/domains/reddit.com",
			output: "Unblocked https://www.reddit.com/r/golang\n",
		},
		{
			name: "unblock with rule id", args: []string{"unblock", "reddit.com", "--rule-id", "3"},
			method: http.MethodDelete, path: "/api/domains/reddit.com", query: "ruleId=3",
			output: "Unblocked reddit.com\n",
		},
		{
			name: "schedule window", args: []string{"schedule", "youtube.com", "--start", "22:00", "--end", "06:00"},
			method: http.MethodPut, path: "/api/domains/youtube.com/schedule",
			body:   map[string]any{"alwaysOn": false, "startTime": "22:00", "endTime": "06:00"},
			output: "Schedule for youtube.com set to 22:00-06:00\n",
		},
		{
			name: "schedule always on", args: []string{"schedule", "youtube.com", "--always-on"},
			method: http.MethodPut, path: "/api/domains/youtube.com/schedule",
			body:   map[string]any{"alwaysOn": true, "startTime": "", "endTime": ""},
			output: "Schedule for youtube.com set to always\n",
		},
		{
			name: "timezone", args: []string{"timezone", "Europe/Berlin"},
			method: http.MethodPut, path: "/api/timezone",
			body: map[string]any{"timezone": "Europe/Berlin"}, output: "Timezone set to Europe/Berlin\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, addr := newFakeDaemon(t, http.StatusOK, map[string]any{"ignored": false})
			out, err := run(t, addr, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.output, out)

			req := d.last(t)
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.path, req.Path)
			assert.Equal(t, tt.query, req.Query)
			assert.Equal(t, tt.body, req.Body)
		})
	}
}

func TestDisable_Prompt(t *testing.T) {
	orig := confirm
	t.Cleanup(func() { confirm = orig })

	t.Run("declined", func(t *testing.T) {
		confirm = func(string) (bool, error) { return false, nil }
		d, addr := newFakeDaemon(t, http.StatusOK, map[string]any{})
		out, err := run(t, addr, "disable")
		require.NoError(t, err)
		assert.Equal(t, "Blocking left on\n", out)
		assert.Zero(t, d.count())
	})

	t.Run("accepted", func(t *testing.T) {
		var label string
		confirm = func(l string) (bool, error) { label = l; return true, nil }
		d, addr := newFakeDaemon(t, http.StatusOK, map[string]any{})
		_, err := run(t, addr, "disable")
		require.NoError(t, err)
		assert.NotEmpty(t, label)
		assert.Equal(t, map[string]any{"enabled": false}, d.last(t).Body)
	})
}

func TestRules_PrintsTable(t *testing.T) {
	reply := map[string]any{
		"ignored": false,
		"rules": []domain.RuleView{
			{Domain: "reddit.com", RuleID: ptr(1), IsActive: true, Schedule: domain.BlockSchedule{Enabled: true, AlwaysOn: true}},
			{Domain: "youtube.com", Schedule: domain.BlockSchedule{Enabled: true, StartTime: "09:00", EndTime: "17:00"}},
		},
	}
	_, addr := newFakeDaemon(t, http.StatusOK, reply)

	out, err := run(t, addr, "rules")
	require.NoError(t, err)
	assert.Contains(t, out, "DOMAIN")
	assert.Regexp(t, `reddit\.com\s+1\s+yes\s+always`, out)
	assert.Regexp(t, `youtube\.com\s+-\s+no\s+09:00-17:00`, out)
}

func TestRules_Empty(t *testing.T) {
	_, addr := newFakeDaemon(t, http.StatusOK, map[string]any{"ignored": false})
	out, err := run(t, addr, "rules")
	require.NoError(t, err)
	assert.Equal(t, "No blocked domains\n", out)
}

func TestCheck(t *testing.T) {
	_, addr := newFakeDaemon(t, http.StatusOK, map[string]any{"shouldBlock": true})
	out, err := run(t, addr, "check", "reddit.com")
	require.NoError(t, err)
	assert.Equal(t, "reddit.com is blocked right now\n", out)

	_, addr = newFakeDaemon(t, http.StatusOK, map[string]any{"shouldBlock": false})
	out, err = run(t, addr, "check", "reddit.com")
	require.NoError(t, err)
	assert.Equal(t, "reddit.com is not blocked right now\n", out)
}

func TestUsage(t *testing.T) {
	reply := map[string]any{
		"usage": domain.UsageReport{
			Today: map[string]int64{"reddit.com": 90},
			History: []domain.UsageSnapshot{
				{Date: "2026-10-14", Data: map[string]int64{"a.com": 60, "b.com": 600}},
				{Date: "2026-10-15", Data: map[string]int64{"a.com": 30}},
			},
		},
	}
	_, addr := newFakeDaemon(t, http.StatusOK, reply)

	out, err := run(t, addr, "usage")
	require.NoError(t, err)
	assert.Regexp(t, `reddit\.com\s+1m30s`, out)
	assert.Regexp(t, `2026-10-14\s+11m0s\s+b\.com`, out)
	assert.Less(t, bytes.Index([]byte(out), []byte("2026-10-15")), bytes.Index([]byte(out), []byte("2026-10-14")), "newest day first")
}

func TestUsageAdd(t *testing.T) {
	d, addr := newFakeDaemon(t, http.StatusOK, map[string]any{"total": 150})
	out, err := run(t, addr, "usage", "add", "reddit.com", "60")
	require.NoError(t, err)
	assert.Equal(t, "reddit.com: 2m30s today\n", out)
	assert.Equal(t, map[string]any{"domain": "reddit.com", "seconds": float64(60)}, d.last(t).Body)

	calls := d.count()
	_, err = run(t, addr, "usage", "add", "reddit.com", "0")
	assert.ErrorContains(t, err, "positive integer")

	_, err = run(t, addr, "usage", "add", "--", "reddit.com", "-5")
	assert.ErrorContains(t, err, "positive integer")

	_, err = run(t, addr, "usage", "add", "reddit.com", "ten")
	assert.ErrorContains(t, err, "positive integer")
	assert.Equal(t, calls, d.count(), "rejected input never reaches the daemon")
}

func TestStatus(t *testing.T) {
	_, addr := newFakeDaemon(t, http.StatusOK, control.HealthBody{Status: "ok", Ready: true, Enabled: false})
	out, err := run(t, addr, "status")
	require.NoError(t, err)
	assert.Equal(t, "Daemon: ok (ready)\nBlocking: off\n", out)
}

func TestImport(t *testing.T) {
	d, addr := newFakeDaemon(t, http.StatusOK, map[string]any{"ignored": false})
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("0.0.0.0 reddit.com www.reddit.com\n0.0.0.0 youtube.com\n"))
	root.SetArgs([]string{"--addr", addr, "import", "-"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "Imported 2 domains\n", out.String())
	require.Equal(t, 2, d.count())
	assert.Equal(t, map[string]any{"domain": "youtube.com"}, d.last(t).Body)
}

func TestImport_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("a.com\nb.com\n"), 0o644))
	d, addr := newFakeDaemon(t, http.StatusOK, map[string]any{"ignored": false})

	out, err := run(t, addr, "import", path, "--format", "plain")
	require.NoError(t, err)
	assert.Equal(t, "Imported 2 domains\n", out)
	assert.Equal(t, 2, d.count())

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = run(t, addr, "import", empty)
	assert.ErrorContains(t, err, "no valid domains")

	_, err = run(t, addr, "import", path, "--format", "csv")
	assert.ErrorContains(t, err, "unknown list format")
}

func TestIgnoredReply(t *testing.T) {
	_, addr := newFakeDaemon(t, http.StatusOK, map[string]any{"ignored": true})
	out, err := run(t, addr, "block", "reddit.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Blocking is disabled")
}

func TestErrors(t *testing.T) {
	t.Run("daemon error body", func(t *testing.T) {
		_, addr := newFakeDaemon(t, http.StatusBadRequest, control.ErrorBody{Error: "invalid time format"})
		_, err := run(t, addr, "schedule", "a.com", "--start", "25:00", "--end", "06:00")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
		assert.Contains(t, err.Error(), "invalid time format")
	})

	t.Run("schedule needs a mode", func(t *testing.T) {
		d, addr := newFakeDaemon(t, http.StatusOK, map[string]any{})
		_, err := run(t, addr, "schedule", "a.com")
		assert.ErrorContains(t, err, "--always-on")
		assert.Zero(t, d.count())
	})

	t.Run("conflicting schedule flags", func(t *testing.T) {
		_, addr := newFakeDaemon(t, http.StatusOK, map[string]any{})
		_, err := run(t, addr, "schedule", "a.com", "--always-on", "--start", "09:00", "--end", "10:00")
		assert.Error(t, err)
	})

	t.Run("invalid domain never leaves the cli", func(t *testing.T) {
		d, addr := newFakeDaemon(t, http.StatusOK, map[string]any{})
		_, err := run(t, addr, "check", "not a domain")
		assert.Error(t, err)
		assert.Zero(t, d.count())
	})

	t.Run("bad addr", func(t *testing.T) {
		_, err := run(t, "127.0.0.1:7300", "rules")
		assert.ErrorContains(t, err, "invalid --addr")
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := run(t, "http://127.0.0.1:1", "rules")
		assert.ErrorContains(t, err, "daemon unreachable")
	})
}
