package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/policy"
)

func TestRenderReason(t *testing.T) {
	d := Decision{
		UserLogin:    "viewer1",
		UserTier:     "GOLD",
		UserDivision: "III",
		Config: &controlplane.ChannelConfig{
			Mode:                  controlplane.ModeMinRank,
			TimeoutSecs:           600,
			ReasonTemplateMinRank: "{user} timed out for {seconds}s: rank below [tier] [division], see {site}",
		},
	}
	e := &Executor{}
	got, err := e.renderReason(d)
	if err != nil {
		t.Fatalf("renderReason: %v", err)
	}
	want := "viewer1 timed out for 600s: rank below GOLD III, see eloward.gg"
	if got != want {
		t.Errorf("renderReason() = %q, want %q", got, want)
	}
}

func TestRenderReasonMissingTemplateIsConfigError(t *testing.T) {
	d := Decision{Config: &controlplane.ChannelConfig{Mode: controlplane.ModeHasRank}}
	e := &Executor{}
	_, err := e.renderReason(d)
	if err == nil {
		t.Fatal("expected an error for an empty template")
	}
}

// fakeHelixServer serves /helix/users, /helix/moderation/moderators, and
// /helix/moderation/bans the way the platform's real API shapes responses.
func fakeHelixServer(t *testing.T, isModerator bool, banned *bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/helix/users"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]string{
					{"id": "100", "login": "streamer"},
					{"id": "200", "login": "violator"},
					{"id": "300", "login": "elowardbot"},
				},
			})
		case strings.HasPrefix(r.URL.Path, "/helix/moderation/moderators"):
			data := []map[string]string{}
			if isModerator {
				data = append(data, map[string]string{"user_id": "200"})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
		case strings.HasPrefix(r.URL.Path, "/helix/moderation/bans"):
			if banned != nil {
				*banned = true
			}
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request path: %s", r.URL.Path)
		}
	}))
}

func decision() Decision {
	return Decision{
		ChannelLogin: "streamer",
		UserLogin:    "violator",
		Roles:        policy.Roles{},
		Config: &controlplane.ChannelConfig{
			Mode:                  controlplane.ModeHasRank,
			TimeoutSecs:           600,
			ReasonTemplateHasRank: "{user} timed out for {seconds}s",
		},
	}
}

func TestExecuteBansNonModerator(t *testing.T) {
	var banned bool
	srv := fakeHelixServer(t, false, &banned)
	defer srv.Close()

	e := New(srv.URL, 2*time.Second, func() string { return "tok" }, func() string { return "elowardbot" }, zerolog.Nop())
	e.Execute(context.Background(), decision())

	if !banned {
		t.Error("expected a ban call for a non-moderator violator")
	}
}

func TestExecuteAbortsOnLiveModeratorCheck(t *testing.T) {
	var banned bool
	srv := fakeHelixServer(t, true, &banned)
	defer srv.Close()

	e := New(srv.URL, 2*time.Second, func() string { return "tok" }, func() string { return "elowardbot" }, zerolog.Nop())
	e.Execute(context.Background(), decision())

	if banned {
		t.Error("expected no ban call: user is a moderator per the live check")
	}
}

func TestExecuteAbortsOnExemptRole(t *testing.T) {
	var banned bool
	srv := fakeHelixServer(t, false, &banned)
	defer srv.Close()

	e := New(srv.URL, 2*time.Second, func() string { return "tok" }, func() string { return "elowardbot" }, zerolog.Nop())
	d := decision()
	d.Roles = policy.Roles{Subscriber: true}
	e.Execute(context.Background(), d)

	if banned {
		t.Error("expected no ban call and no API traffic: exempt role aborts before ID resolution")
	}
}
