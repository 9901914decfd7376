// Package blockpage serves the page browsers land on when the sinkhole
// points a blocked hostname at this process.
package blockpage

import (
	"bytes"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/publicsuffix"

	"github.com/haukened/focusflow/internal/focus/common/log"
	"github.com/haukened/focusflow/internal/focus/common/utils"
)

// Gate reports whether blocking is currently enabled.
type Gate interface {
	Enabled() bool
}

// Options configures the block page handler.
type Options struct {
	Gate   Gate
	Logger log.Logger
	// Tips rotate on each rendered page. Empty means DefaultTips.
	Tips []string
}

// Handler renders the block page for top-level navigations and answers
// everything else with 204.
type Handler struct {
	gate   Gate
	logger log.Logger
	tips   []string
	next   atomic.Uint64
	router chi.Router
}

// NewHandler builds the chi router for the block page.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if len(opts.Tips) == 0 {
		opts.Tips = DefaultTips
	}
	h := &Handler{gate: opts.Gate, logger: opts.Logger, tips: opts.Tips}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.HandleFunc("/*", h.serve)
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if !isNavigation(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	host := requestHost(r)
	data := pageData{
		Host:    host,
		Site:    siteName(host),
		Enabled: h.gate == nil || h.gate.Enabled(),
	}
	if data.Enabled {
		data.Tip = h.nextTip()
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		h.logger.Error(map[string]any{"host": host, "error": err.Error()}, "failed to render block page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.logger.Debug(map[string]any{
		"host":    host,
		"client":  r.RemoteAddr,
		"enabled": data.Enabled,
	}, "block page served")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) nextTip() string {
	i := h.next.Add(1) - 1
	return h.tips[i%uint64(len(h.tips))]
}

// isNavigation reports whether r is a top-level page load. Fetch metadata
// is authoritative when present; older clients fall back to Accept.
func isNavigation(r *http.Request) bool {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return utils.CanonicalDNSName(host)
}

// siteName is the registrable domain shown as the page heading, so every
// subdomain of a blocked site reads the same. IPs and names without a
// public suffix are shown as they are.
func siteName(host string) string {
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return site
}
