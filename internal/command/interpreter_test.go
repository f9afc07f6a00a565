package command

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/cache"
	"github.com/eloward/eloward-bot/internal/controlplane"
	"github.com/eloward/eloward-bot/internal/policy"
)

type fakeSayer struct {
	messages []string
}

func (f *fakeSayer) Say(channel, text string) error {
	f.messages = append(f.messages, channel+": "+text)
	return nil
}

func (f *fakeSayer) last() string {
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

// newTestInterpreter wires an Interpreter against an httptest server that
// serves config-get/config-update so Handle can be exercised end to end
// without a fake in place of controlplane.Client, which has no interface.
func newTestInterpreter(t *testing.T, handler http.HandlerFunc) *Interpreter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cp := controlplane.New(srv.URL, "secret", 2*time.Second, zerolog.Nop())
	configCache := cache.NewConfigCache(cp)
	return New("!eloward", cp, configCache, zerolog.Nop())
}

var privileged = policy.Roles{Moderator: true}
var unprivileged = policy.Roles{}

func TestHandleHelp(t *testing.T) {
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "viewer1", unprivileged, "!eloward help")
	if sayer.last() != "#streamer: Help: "+helpURL {
		t.Errorf("unexpected reply: %q", sayer.last())
	}
}

func TestHandleCommandsShortcut(t *testing.T) {
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "viewer1", unprivileged, "!commands")
	if sayer.last() != "#streamer: Commands: "+commandsURL {
		t.Errorf("unexpected reply: %q", sayer.last())
	}
}

func TestHandleOnRequiresPrivilege(t *testing.T) {
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the control plane without privilege")
	})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "viewer1", unprivileged, "!eloward on")
	if sayer.last() != "#streamer: you don't have permission to do that" {
		t.Errorf("unexpected reply: %q", sayer.last())
	}
}

func TestHandleOnSucceedsForModerator(t *testing.T) {
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(controlplane.ChannelConfig{ChannelLogin: "streamer", Enabled: true, Version: 2})
	})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "mod1", privileged, "!eloward on")
	if sayer.last() != "#streamer: EloWard is now on." {
		t.Errorf("unexpected reply: %q", sayer.last())
	}
}

func TestHandleSetTimeoutClampsToRange(t *testing.T) {
	var sawTimeout int
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Fields struct {
				TimeoutSecs *int `json:"timeout_seconds"`
			} `json:"fields"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Fields.TimeoutSecs != nil {
			sawTimeout = *body.Fields.TimeoutSecs
		}
		_ = json.NewEncoder(w).Encode(controlplane.ChannelConfig{ChannelLogin: "streamer"})
	})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "mod1", privileged, "!eloward set timeout 99999999")
	if sawTimeout != maxTimeoutSeconds {
		t.Errorf("timeout sent = %d, want clamp to %d", sawTimeout, maxTimeoutSeconds)
	}
}

func TestHandleSetMinRankDivisionlessTier(t *testing.T) {
	var sawTier, sawDivision string
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Fields struct {
				MinTier     *string `json:"min_tier"`
				MinDivision *string `json:"min_division"`
			} `json:"fields"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Fields.MinTier != nil {
			sawTier = *body.Fields.MinTier
		}
		if body.Fields.MinDivision != nil {
			sawDivision = *body.Fields.MinDivision
		}
		_ = json.NewEncoder(w).Encode(controlplane.ChannelConfig{ChannelLogin: "streamer"})
	})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "mod1", privileged, "!eloward set min_rank master")
	if sawTier != "MASTER" || sawDivision != "I" {
		t.Errorf("got tier=%q division=%q, want MASTER/I", sawTier, sawDivision)
	}
}

func TestHandleSetMinRankRequiresDivisionForNonDivisionlessTier(t *testing.T) {
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the control plane: missing required division")
	})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "mod1", privileged, "!eloward set min_rank gold")
	if sayer.last() != "#streamer: this tier requires a division (1-4 or I-IV)" {
		t.Errorf("unexpected reply: %q", sayer.last())
	}
}

func TestHandleSetMinRankUnknownTier(t *testing.T) {
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the control plane: unknown tier")
	})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "mod1", privileged, "!eloward set min_rank nonsense")
	if sayer.last() != "#streamer: unrecognized tier" {
		t.Errorf("unexpected reply: %q", sayer.last())
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "viewer1", unprivileged, "!eloward frobnicate")
	if sayer.last() != "#streamer: unknown command" {
		t.Errorf("unexpected reply: %q", sayer.last())
	}
}

func TestHandleEmptyArgsShowsShortStatus(t *testing.T) {
	ip := newTestInterpreter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	sayer := &fakeSayer{}
	ip.Handle(context.Background(), sayer, "streamer", "viewer1", unprivileged, "!eloward")
	if sayer.last() != "#streamer: EloWard is currently off in this channel." {
		t.Errorf("unexpected reply: %q", sayer.last())
	}
}

func TestNormalizeDivision(t *testing.T) {
	tests := map[string]string{"1": "I", "I": "I", "2": "II", "iii": "III", "4": "IV", "iv": "IV", "garbage": "GARBAGE"}
	for in, want := range tests {
		if got := normalizeDivision(in); got != want {
			t.Errorf("normalizeDivision(%q) = %q, want %q", in, got, want)
		}
	}
}
