// Package controlplane implements the HMAC-signed RPC client used to talk
// to the EloWard control plane: config reads/writes, channel roster, and
// rank lookups.
package controlplane

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/errkind"
	"github.com/eloward/eloward-bot/internal/metrics"
)

// Client signs and sends requests to the control plane using
// ts+method+path+body HMAC-SHA256 authentication.
type Client struct {
	baseURL    string
	secret     []byte
	httpClient *http.Client
	logger     zerolog.Logger
}

// New builds a control plane client. secret must be non-empty; callers are
// expected to have validated configuration before reaching here.
func New(baseURL, secret string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "controlplane_client").Logger(),
	}
}

// sign computes the hex HMAC-SHA256 over the concatenation ts+method+path+body
// (no delimiter between fields — this is the canonical form the control
// plane expects on both sides).
func (c *Client) sign(ts int64, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// do issues a signed request against path with the given method and JSON
// body (nil for no body), decoding the JSON response into out (nil to
// discard the body). Every failure is classified via errkind so callers
// can apply fail-open policy without string-matching errors.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	ts := time.Now().Unix()
	sig := c.sign(ts, method, path, bodyBytes)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-HMAC-Signature", sig)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Request-ID", uuid.NewString())
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RPCLatencySeconds.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RPCRequestsTotal.WithLabelValues(path, "transient").Inc()
		return errkind.Wrap(errkind.Transient, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		metrics.RPCRequestsTotal.WithLabelValues(path, "transient").Inc()
		return errkind.Wrap(errkind.Transient, fmt.Errorf("reading response body: %w", readErr))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		metrics.RPCRequestsTotal.WithLabelValues(path, "success").Inc()
		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return errkind.Wrap(errkind.SchemaInvalid, fmt.Errorf("decoding %s response: %w", path, err))
			}
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		metrics.RPCRequestsTotal.WithLabelValues(path, "not_found").Inc()
		return errkind.NotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		metrics.RPCRequestsTotal.WithLabelValues(path, "auth_expired").Inc()
		return errkind.Wrap(errkind.AuthExpired, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	case resp.StatusCode >= 500:
		metrics.RPCRequestsTotal.WithLabelValues(path, "transient").Inc()
		return errkind.Wrap(errkind.Transient, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	default:
		metrics.RPCRequestsTotal.WithLabelValues(path, "error").Inc()
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
}

// ChannelConfig mirrors the control plane's per-channel moderation policy.
// Mode is either "has_rank" (any recorded rank is sufficient) or
// "min_rank" (rank must meet MinTier/MinDivision). Only the template for
// the currently active mode is ever read by the executor.
type ChannelConfig struct {
	ChannelLogin          string `json:"channel_login"`
	Enabled               bool   `json:"enabled"`
	Mode                  string `json:"mode"`
	TimeoutSecs           int    `json:"timeout_seconds"`
	MinTier               string `json:"min_tier"`
	MinDivision           string `json:"min_division"`
	ReasonTemplateHasRank string `json:"reason_template_has_rank"`
	ReasonTemplateMinRank string `json:"reason_template_min_rank"`
	Version               int64  `json:"version"`
	UpdatedAt             int64  `json:"updated_at"`
}

const (
	ModeHasRank = "has_rank"
	ModeMinRank = "min_rank"
)

// ActiveReasonTemplate returns the template for whichever mode is
// currently configured.
func (c *ChannelConfig) ActiveReasonTemplate() string {
	if c.Mode == ModeMinRank {
		return c.ReasonTemplateMinRank
	}
	return c.ReasonTemplateHasRank
}

// GetConfig fetches a channel's moderation policy. A PolicyAbsent error
// means the channel has no configured policy (treat as disabled).
func (c *Client) GetConfig(ctx context.Context, channelLogin string) (*ChannelConfig, error) {
	var cfg ChannelConfig
	err := c.do(ctx, http.MethodPost, "/bot/config-get", map[string]string{"channel_login": channelLogin}, &cfg)
	if errkind.Is(err, errkind.NotFound) {
		return nil, errkind.Wrap(errkind.PolicyAbsent, err)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigUpdate is a partial mutation applied by an in-chat command. Only
// non-nil fields are changed; the control plane treats this as a merge
// patch, not a replace.
type ConfigUpdate struct {
	ChannelLogin          string  `json:"channel_login"`
	Enabled               *bool   `json:"enabled,omitempty"`
	Mode                  *string `json:"mode,omitempty"`
	TimeoutSecs           *int    `json:"timeout_seconds,omitempty"`
	MinTier               *string `json:"min_tier,omitempty"`
	MinDivision           *string `json:"min_division,omitempty"`
	ReasonTemplateHasRank *string `json:"reason_template_has_rank,omitempty"`
	ReasonTemplateMinRank *string `json:"reason_template_min_rank,omitempty"`
}

// UpdateConfig applies a mutation, wrapping the changed fields in the
// {channel_login, fields} envelope the control plane expects. The control
// plane has shipped this endpoint under two different path spellings
// across releases; this tries the canonical form first and falls back to
// the legacy colon form on a 404 so the bot keeps working against either
// deployment.
func (c *Client) UpdateConfig(ctx context.Context, update ConfigUpdate) (*ChannelConfig, error) {
	channelLogin := update.ChannelLogin
	update.ChannelLogin = ""
	envelope := map[string]any{
		"channel_login": channelLogin,
		"fields":        update,
	}

	var cfg ChannelConfig
	err := c.do(ctx, http.MethodPost, "/bot/config-update", envelope, &cfg)
	if errkind.Is(err, errkind.NotFound) {
		err = c.do(ctx, http.MethodPost, "/bot/config:update", envelope, &cfg)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Rank is a user's resolved competitive rank.
type Rank struct {
	Tier     string
	Division string
}

type rankGetResponse struct {
	RankData struct {
		RankTier     string `json:"rank_tier"`
		RankDivision string `json:"rank_division"`
	} `json:"rank_data"`
}

// GetRank fetches a user's rank. A RankAbsent error means the user has no
// rank on record.
func (c *Client) GetRank(ctx context.Context, userLogin string) (*Rank, error) {
	var resp rankGetResponse
	err := c.do(ctx, http.MethodPost, "/rank:get", map[string]string{"user_login": userLogin}, &resp)
	if errkind.Is(err, errkind.NotFound) {
		return nil, errkind.Wrap(errkind.RankAbsent, err)
	}
	if err != nil {
		return nil, err
	}
	return &Rank{Tier: resp.RankData.RankTier, Division: resp.RankData.RankDivision}, nil
}

// FollowChannel registers the bot as actively moderating a channel so the
// control plane's roster endpoint includes it on the next /channels poll.
func (c *Client) FollowChannel(ctx context.Context, channelLogin string) error {
	return c.do(ctx, http.MethodPost, "/bot/follow-channel", map[string]string{"channel_login": channelLogin}, nil)
}

// Channels lists every channel the bot is configured to join.
func (c *Client) Channels(ctx context.Context) ([]string, error) {
	var resp struct {
		Channels []string `json:"channels"`
	}
	if err := c.do(ctx, http.MethodGet, "/channels", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}
