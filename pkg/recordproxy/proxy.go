// Package recordproxy is a small forward HTTP proxy that can record
// responses and replay them later. Its cache mode is switched at runtime
// through a JSON control endpoint.
package recordproxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/perbu/replaytest/pkg/control"
)

// hop-by-hop headers are never forwarded or recorded
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// Proxy is the data-plane handler.
type Proxy struct {
	controlHost string
	upstream    http.RoundTripper
	store       *Store
	logger      *slog.Logger

	mu   sync.RWMutex
	mode control.Mode // zero means pass-through

	controlMux *http.ServeMux
}

// NewProxy creates a proxy backed by store. A nil transport uses a clone of
// http.DefaultTransport that ignores proxy environment variables.
func NewProxy(controlHost string, transport http.RoundTripper, store *Store, logger *slog.Logger) *Proxy {
	if controlHost == "" {
		controlHost = control.DefaultHost
	}
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.Proxy = nil
		transport = t
	}
	if store == nil {
		store = NewStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Proxy{
		controlHost: controlHost,
		upstream:    transport,
		store:       store,
		logger:      logger,
		controlMux:  http.NewServeMux(),
	}
	p.controlMux.HandleFunc(control.ConfigurePath, p.handleConfigure)
	return p
}

// Mode returns the current cache mode, zero when unconfigured.
func (p *Proxy) Mode() control.Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// SetMode switches the cache mode.
func (p *Proxy) SetMode(m control.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = m
}

// Store returns the response store.
func (p *Proxy) Store() *Store {
	return p.store
}

// ControlHandler serves the control endpoint on its own, for the API port.
func (p *Proxy) ControlHandler() http.Handler {
	return p.controlMux
}

func (p *Proxy) isControl(r *http.Request) bool {
	if !r.URL.IsAbs() {
		return true
	}
	host := r.URL.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.EqualFold(host, p.controlHost)
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.isControl(r) {
		p.controlMux.ServeHTTP(w, r)
		return
	}
	if r.URL.Scheme != "http" {
		http.Error(w, "only plain http is proxied", http.StatusNotImplemented)
		return
	}

	key := Key(r)
	mode := p.Mode()

	if mode == control.ModeReplay {
		if e, ok := p.store.Get(key); ok {
			p.logger.Debug("Replaying response", "key", key, "status", e.Status)
			writeEntry(w, e)
			return
		}
		p.logger.Info("Replay miss, forwarding", "key", key)
	}

	e, err := p.forward(r)
	if err != nil {
		p.logger.Warn("Upstream request failed", "key", key, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if mode == control.ModeCache {
		p.store.Put(key, e)
		p.logger.Debug("Recorded response", "key", key, "status", e.Status, "bytes", len(e.Body))
	}
	writeEntry(w, e)
}

func (p *Proxy) forward(r *http.Request) (Entry, error) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	removeHopHeaders(out.Header)
	if r.ContentLength == 0 {
		out.Body = nil
	}

	resp, err := p.upstream.RoundTrip(out)
	if err != nil {
		return Entry{}, fmt.Errorf("forwarding %s: %w", r.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, fmt.Errorf("reading upstream body: %w", err)
	}
	header := resp.Header.Clone()
	removeHopHeaders(header)
	header.Del("Content-Length")
	return Entry{Status: resp.StatusCode, Header: header, Body: body}, nil
}

func writeEntry(w http.ResponseWriter, e Entry) {
	h := w.Header()
	for k, vv := range e.Header {
		for _, v := range vv {
			h.Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	w.Write(e.Body)
}

// modeDocument renders the current configuration.
func (p *Proxy) modeDocument() ([]byte, error) {
	mode := p.Mode()
	if !mode.Valid() {
		return []byte("{}"), nil
	}
	return control.Marshal(control.CacheModifier{Mode: mode})
}

func (p *Proxy) handleConfigure(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost, http.MethodPut:
		if err := p.applyConfig(r.Body); err != nil {
			p.logger.Warn("Rejected configuration", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST, PUT")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doc, err := p.modeDocument()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

func (p *Proxy) applyConfig(body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &doc); err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}
	if len(doc) == 0 {
		return fmt.Errorf("no modifiers in configuration")
	}

	var next control.CacheModifier
	for name, raw := range doc {
		if name != control.CacheModifierName {
			return fmt.Errorf("unknown modifier %q", name)
		}
		if err := json.Unmarshal(raw, &next); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if !next.Mode.Valid() {
		return fmt.Errorf("%s: mode is required", control.CacheModifierName)
	}

	p.SetMode(next.Mode)
	p.logger.Info("Configured cache modifier", "mode", next.Mode.String(), "entries", p.store.Len())
	return nil
}
