// Package credential implements the bearer-credential lifecycle used for
// both IRC login and moderation API calls.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/errkind"
	"github.com/eloward/eloward-bot/internal/metrics"
)

// Credential is an opaque bearer token with an expiry.
type Credential struct {
	Token     string
	Login     string
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the credential has already expired.
func (c Credential) Expired() bool {
	return c.ExpiresAt.Before(time.Now())
}

// tokenResponse mirrors the control plane's GET /token response.
type tokenResponse struct {
	Token             string `json:"token"`
	User              struct {
		Login string `json:"login"`
		ID    string `json:"id"`
	} `json:"user"`
	ExpiresAtMs       int64 `json:"expires_at"`
	ExpiresInMinutes  int   `json:"expires_in_minutes"`
	NeedsRefreshSoon  bool  `json:"needs_refresh_soon"`
}

// RotationHandler is invoked whenever refresh() observes a token different
// from the previously cached one. Shards subscribe to this to close and
// reconnect with the new token.
type RotationHandler func(next Credential)

// Provider fetches and caches the current bearer credential, refreshing it
// ahead of expiry and signaling rotation to interested shards.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.RWMutex
	current Credential

	rotationMu sync.Mutex
	onRotate   []RotationHandler
}

// New builds a credential provider for the control plane at baseURL.
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Provider {
	return &Provider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "credential_provider").Logger(),
	}
}

// OnRotate registers a handler invoked after a successful refresh that
// returned a different token than previously cached.
func (p *Provider) OnRotate(h RotationHandler) {
	p.rotationMu.Lock()
	defer p.rotationMu.Unlock()
	p.onRotate = append(p.onRotate, h)
}

// Boot performs the initial, unauthenticated token fetch. A failure here is
// FatalBoot: the supervisor must abort startup.
func (p *Provider) Boot(ctx context.Context) error {
	cred, err := p.fetch(ctx)
	if err != nil {
		return errkind.Wrap(errkind.FatalBoot, fmt.Errorf("initial credential fetch failed: %w", err))
	}
	p.mu.Lock()
	p.current = cred
	p.mu.Unlock()
	p.logger.Info().
		Str("login", cred.Login).
		Time("expires_at", cred.ExpiresAt).
		Msg("credential bootstrapped")
	return nil
}

// Current returns the cached token and its expiry.
func (p *Provider) Current() Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Refresh re-fetches the token. On success it updates the cache and, if
// the token value changed, notifies rotation handlers. Network errors are
// retried on the next tick by the caller; the previous token is kept if it
// is still valid.
func (p *Provider) Refresh(ctx context.Context) error {
	cred, err := p.fetch(ctx)
	if err != nil {
		metrics.CredentialRefreshTotal.WithLabelValues("failed").Inc()
		prev := p.Current()
		if !prev.Expired() {
			p.logger.Warn().Err(err).Msg("credential refresh failed, keeping current token")
			return nil
		}
		return fmt.Errorf("credential refresh failed and no valid token remains: %w", err)
	}

	p.mu.Lock()
	prev := p.current
	p.current = cred
	p.mu.Unlock()

	metrics.CredentialRefreshTotal.WithLabelValues("success").Inc()

	if prev.Token != "" && prev.Token != cred.Token {
		p.logger.Info().Msg("credential rotated, notifying shards")
		p.rotationMu.Lock()
		handlers := append([]RotationHandler(nil), p.onRotate...)
		p.rotationMu.Unlock()
		for _, h := range handlers {
			h(cred)
		}
	}
	return nil
}

// ShouldRefresh reports whether the cached credential's remaining life is
// below the staleness threshold.
func (p *Provider) ShouldRefresh(threshold time.Duration) bool {
	cred := p.Current()
	if cred.Token == "" {
		return true
	}
	return time.Until(cred.ExpiresAt) < threshold
}

func (p *Provider) fetch(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/token", nil)
	if err != nil {
		return Credential{}, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Credential{}, errkind.Wrap(errkind.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credential{}, errkind.Wrap(errkind.Transient, fmt.Errorf("token endpoint returned %d", resp.StatusCode))
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credential{}, errkind.Wrap(errkind.SchemaInvalid, fmt.Errorf("decoding token response: %w", err))
	}
	if body.Token == "" {
		return Credential{}, errkind.Wrap(errkind.SchemaInvalid, fmt.Errorf("token response missing token field"))
	}

	return Credential{
		Token:     body.Token,
		Login:     body.User.Login,
		UserID:    body.User.ID,
		ExpiresAt: time.UnixMilli(body.ExpiresAtMs),
	}, nil
}
