package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xpan-cli/xpan/internal/xconfig"
	"github.com/xpan-cli/xpan/internal/xpanerr"
	"github.com/xpan-cli/xpan/internal/xutil"
)

// staticTokenProvider is the minimal xpanapi.TokenProvider this CLI
// wires up. The OAuth2 device-code dance and token persistence format
// are out of scope for the engine (spec.md section 1); this type only
// bridges whatever token already lives in xconfig.Config to the
// interface the engine consumes. Refresh has nothing to exchange the
// refresh token for without that external flow, so it returns an
// error that surfaces as an AuthError once the engine's one permitted
// refresh attempt is spent.
type staticTokenProvider struct {
	mu    sync.RWMutex
	token string
}

func newStaticTokenProvider(cfg xconfig.Config) *staticTokenProvider {
	slog.Debug("token: using configured access token", "token", xutil.MaskSecret(cfg.AccessToken))
	return &staticTokenProvider{token: cfg.AccessToken}
}

func (p *staticTokenProvider) CurrentToken(ctx context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return "", fmt.Errorf("xpan: no access token configured; run the external login flow first")
	}
	return p.token, nil
}

func (p *staticTokenProvider) Refresh(ctx context.Context) (string, error) {
	return "", &xpanerr.AuthError{Op: "token refresh", Err: fmt.Errorf("requires the external OAuth2 flow; re-authenticate and update the config")}
}
