// Package moderation implements the enforcement action: resolving IDs,
// double-checking moderator status, and issuing the timeout/ban call.
package moderation

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/errkind"
	"github.com/eloward/eloward-bot/internal/metrics"
	"github.com/eloward/eloward-bot/internal/policy"
)

// Decision is the outcome the dispatcher passes to the executor.
type Decision struct {
	ChannelLogin string
	UserLogin    string
	Roles        policy.Roles
	Config       *controlplane.ChannelConfig
	UserTier     string
	UserDivision string
}

// Executor resolves IDs and issues moderation API calls against the
// platform's helix-style endpoints, authenticated with the same bearer the
// IRC shards use.
type Executor struct {
	apiBaseURL string
	httpClient *http.Client
	credential func() string // returns the current bearer token
	botLogin   func() string
	logger     zerolog.Logger
}

// New builds a moderation executor. credential and botLogin are pulled
// live from the credential provider so a rotation mid-flight is picked up
// without restructuring the executor's lifetime.
func New(apiBaseURL string, timeout time.Duration, credential func() string, botLogin func() string, logger zerolog.Logger) *Executor {
	return &Executor{
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		credential: credential,
		botLogin:   botLogin,
		logger:     logger.With().Str("component", "moderation_executor").Logger(),
	}
}

// Execute runs the full enforcement sequence for one decision. It never
// retries: a failure is logged and the function returns, leaving the next
// offending message to trigger the pipeline again.
func (e *Executor) Execute(ctx context.Context, d Decision) {
	if d.Roles.SuperAdmin || d.Roles.EnforcementExempt() {
		e.logger.Debug().Str("user", d.UserLogin).Msg("aborting: user is enforcement-exempt")
		metrics.ModerationCallsTotal.WithLabelValues("aborted").Inc()
		return
	}

	channelID, userID, botID, err := e.resolveIDs(ctx, d.ChannelLogin, d.UserLogin)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to resolve user IDs, aborting moderation")
		metrics.ModerationCallsTotal.WithLabelValues("failed").Inc()
		return
	}

	isMod, err := e.isModerator(ctx, channelID, userID, botID)
	if err != nil {
		e.logger.Warn().Err(err).Msg("moderator-list check failed, proceeding without it")
	} else if isMod {
		e.logger.Debug().Str("user", d.UserLogin).Msg("aborting: user already a moderator per live check")
		metrics.ModerationCallsTotal.WithLabelValues("aborted").Inc()
		return
	}

	reason, err := e.renderReason(d)
	if err != nil {
		e.logger.Error().Err(err).Msg("reason template render failed, aborting")
		metrics.ModerationCallsTotal.WithLabelValues("failed").Inc()
		return
	}

	if err := e.ban(ctx, channelID, userID, botID, d.Config.TimeoutSecs, reason); err != nil {
		e.logger.Warn().Err(err).Str("user", d.UserLogin).Msg("moderation ban call failed")
		metrics.ModerationCallsTotal.WithLabelValues("failed").Inc()
		return
	}

	metrics.ModerationCallsTotal.WithLabelValues("success").Inc()
}

func (e *Executor) renderReason(d Decision) (string, error) {
	tmpl := d.Config.ActiveReasonTemplate()
	if tmpl == "" {
		return "", errkind.Wrap(errkind.ConfigError, fmt.Errorf("no reason template configured for mode %q", d.Config.Mode))
	}
	replacer := strings.NewReplacer(
		"{seconds}", strconv.Itoa(d.Config.TimeoutSecs),
		"[seconds]", strconv.Itoa(d.Config.TimeoutSecs),
		"{site}", "eloward.gg",
		"[site]", "eloward.gg",
		"{user}", d.UserLogin,
		"[user]", d.UserLogin,
		"{tier}", d.UserTier,
		"[tier]", d.UserTier,
		"{division}", d.UserDivision,
		"[division]", d.UserDivision,
	)
	return replacer.Replace(tmpl), nil
}

type userLookupResponse struct {
	Data []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"data"`
}

func (e *Executor) resolveIDs(ctx context.Context, channelLogin, userLogin string) (channelID, userID, botID string, err error) {
	logins := []string{channelLogin, userLogin, e.botLogin()}
	query := "login=" + strings.Join(logins, "&login=")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiBaseURL+"/helix/users?"+query, nil)
	if err != nil {
		return "", "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+e.credential())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", "", "", errkind.Wrap(errkind.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", "", "", errkind.Wrap(errkind.AuthExpired, fmt.Errorf("users lookup: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", "", errkind.Wrap(errkind.Transient, fmt.Errorf("users lookup: status %d", resp.StatusCode))
	}

	var body userLookupResponse
	if decErr := decodeJSON(resp, &body); decErr != nil {
		return "", "", "", errkind.Wrap(errkind.SchemaInvalid, decErr)
	}

	byLogin := make(map[string]string, len(body.Data))
	for _, u := range body.Data {
		byLogin[strings.ToLower(u.Login)] = u.ID
	}

	channelID, chOK := byLogin[strings.ToLower(channelLogin)]
	userID, userOK := byLogin[strings.ToLower(userLogin)]
	botID, botOK := byLogin[strings.ToLower(e.botLogin())]
	if !chOK || !userOK || !botOK {
		return "", "", "", errkind.Wrap(errkind.SchemaInvalid, fmt.Errorf("users lookup missing one or more requested logins"))
	}
	return channelID, userID, botID, nil
}

type moderatorListResponse struct {
	Data []struct {
		UserID string `json:"user_id"`
	} `json:"data"`
}

func (e *Executor) isModerator(ctx context.Context, channelID, userID, botID string) (bool, error) {
	url := fmt.Sprintf("%s/helix/moderation/moderators?broadcaster_id=%s&user_id=%s", e.apiBaseURL, channelID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+e.credential())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, errkind.Wrap(errkind.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, errkind.Wrap(errkind.Transient, fmt.Errorf("moderator-list: status %d", resp.StatusCode))
	}

	var body moderatorListResponse
	if err := decodeJSON(resp, &body); err != nil {
		return false, errkind.Wrap(errkind.SchemaInvalid, err)
	}
	return len(body.Data) > 0, nil
}

func (e *Executor) ban(ctx context.Context, channelID, userID, botID string, durationSecs int, reason string) error {
	url := fmt.Sprintf("%s/helix/moderation/bans?broadcaster_id=%s&moderator_id=%s", e.apiBaseURL, channelID, botID)
	payload := map[string]any{
		"data": map[string]any{
			"user_id":  userID,
			"duration": durationSecs,
			"reason":   reason,
		},
	}

	req, err := newJSONRequest(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.credential())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.Transient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errkind.Wrap(errkind.AuthExpired, fmt.Errorf("bans: status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusTooManyRequests {
		return errkind.Wrap(errkind.Transient, fmt.Errorf("bans: status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("bans: rate limited")
	}
	return nil
}
