// Package control builds modifier configuration documents and pushes them
// to a running proxy over its HTTP control endpoint.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/perbu/replaytest/pkg/client"
)

const (
	// DefaultHost is the hostname the proxy intercepts for control traffic.
	DefaultHost = "martian.proxy"
	// ConfigurePath is the control endpoint path.
	ConfigurePath = "/configure"
	// CacheModifierName is the key the cache modifier is registered under.
	CacheModifierName = "cache.Modifier"
)

// ModifierConfig is one entry in a configuration document.
type ModifierConfig interface {
	ModifierName() string
}

// CacheModifier switches the proxy cache between recording and replay.
type CacheModifier struct {
	Mode Mode `json:"mode"`
}

func (CacheModifier) ModifierName() string { return CacheModifierName }

// RawModifier carries an arbitrary, already encoded modifier config.
type RawModifier struct {
	Name   string
	Config json.RawMessage
}

func (r RawModifier) ModifierName() string { return r.Name }

func (r RawModifier) MarshalJSON() ([]byte, error) {
	if len(r.Config) == 0 {
		return []byte("{}"), nil
	}
	return r.Config, nil
}

// Marshal encodes mods as one JSON object keyed by modifier name.
func Marshal(mods ...ModifierConfig) ([]byte, error) {
	if len(mods) == 0 {
		return nil, fmt.Errorf("no modifiers to encode")
	}
	doc := make(map[string]ModifierConfig, len(mods))
	for _, m := range mods {
		name := m.ModifierName()
		if name == "" {
			return nil, fmt.Errorf("modifier %T has no name", m)
		}
		if _, dup := doc[name]; dup {
			return nil, fmt.Errorf("duplicate modifier %q", name)
		}
		doc[name] = m
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding modifiers: %w", err)
	}
	return b, nil
}

// Pusher sends configuration documents through the proxy's data port to
// the control host.
type Pusher struct {
	ProxyURL string
	Host     string
	Method   string
	Timeout  time.Duration

	httpClient *http.Client
}

// NewPusher returns a Pusher for the proxy listening at proxyURL.
func NewPusher(proxyURL string) (*Pusher, error) {
	p := &Pusher{ProxyURL: proxyURL}
	if err := p.init(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pusher) init() error {
	if p.Host == "" {
		p.Host = DefaultHost
	}
	if p.Method == "" {
		p.Method = http.MethodPost
	}
	if p.httpClient != nil {
		return nil
	}
	hc, err := client.NewProxiedHTTPClient(p.ProxyURL, p.Timeout)
	if err != nil {
		return err
	}
	p.httpClient = hc
	return nil
}

// URL is the control endpoint address as the proxy sees it.
func (p *Pusher) URL() string {
	host := p.Host
	if host == "" {
		host = DefaultHost
	}
	return "http://" + host + ConfigurePath
}

// Push encodes mods and sends them. It returns the proxy's response body.
func (p *Pusher) Push(ctx context.Context, mods ...ModifierConfig) (string, error) {
	body, err := Marshal(mods...)
	if err != nil {
		return "", err
	}
	return p.PushJSON(ctx, body)
}

// PushMode is shorthand for pushing a single CacheModifier.
func (p *Pusher) PushMode(ctx context.Context, mode Mode) (string, error) {
	return p.Push(ctx, CacheModifier{Mode: mode})
}

// PushJSON sends body verbatim. A non-2xx status is an error that carries
// the status and body.
func (p *Pusher) PushJSON(ctx context.Context, body []byte) (string, error) {
	if err := p.init(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating configure request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pushing configuration: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading configure response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(respBody), fmt.Errorf("configure returned status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return string(respBody), nil
}
