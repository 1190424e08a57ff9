package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// ConnManager owns a single libvirt RPC connection. It dials once; a failed
// dial is returned to the caller as is.
type ConnManager struct {
	mu     sync.Mutex
	client *golibvirt.Libvirt
	uri    string
	logger *slog.Logger
}

func NewConnManager(uri string, logger *slog.Logger) *ConnManager {
	return &ConnManager{
		uri:    uri,
		logger: logger,
	}
}

// Client returns the shared connection, dialing it on first use.
func (m *ConnManager) Client(ctx context.Context) (*golibvirt.Libvirt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uri, err := parseURI(m.uri)
	if err != nil {
		return nil, err
	}
	c, err := golibvirt.ConnectToURI(uri)
	if err != nil {
		return nil, fmt.Errorf("libvirt connect %s: %w", uri.Redacted(), err)
	}
	m.client = c
	m.logger.Debug("libvirt connected", "uri", uri.Redacted())
	return m.client, nil
}

func (m *ConnManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect()
	m.client = nil
	return err
}

func parseURI(raw string) (*url.URL, error) {
	if raw == "" {
		raw = string(golibvirt.QEMUSystem)
	}
	uri, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", raw, err)
	}
	if uri.Scheme == "" {
		uri, err = url.Parse(string(golibvirt.QEMUSystem))
		if err != nil {
			return nil, fmt.Errorf("parse fallback uri: %w", err)
		}
	}
	return uri, nil
}
