package irc

import (
	"reflect"
	"testing"
)

func TestParseMessagePrivmsg(t *testing.T) {
	line := "@badges=moderator/1;mod=1;subscriber=0 :viewer1!viewer1@viewer1.tmi.twitch.tv PRIVMSG #streamer :hello there"
	msg := ParseMessage(line)

	if msg.Command != CmdPrivmsg {
		t.Fatalf("Command = %q, want %q", msg.Command, CmdPrivmsg)
	}
	if msg.Nick() != "viewer1" {
		t.Errorf("Nick() = %q, want viewer1", msg.Nick())
	}
	if msg.Channel() != "#streamer" {
		t.Errorf("Channel() = %q, want #streamer", msg.Channel())
	}
	if msg.Trailing() != "hello there" {
		t.Errorf("Trailing() = %q, want %q", msg.Trailing(), "hello there")
	}
	if msg.Tags["badges"] != "moderator/1" {
		t.Errorf("tags[badges] = %q, want moderator/1", msg.Tags["badges"])
	}
	if msg.Tags["mod"] != "1" {
		t.Errorf("tags[mod] = %q, want 1", msg.Tags["mod"])
	}
}

func TestParseMessagePing(t *testing.T) {
	msg := ParseMessage("PING :tmi.twitch.tv")
	if msg.Command != CmdPing {
		t.Fatalf("Command = %q, want PING", msg.Command)
	}
	if msg.Trailing() != "tmi.twitch.tv" {
		t.Errorf("Trailing() = %q, want tmi.twitch.tv", msg.Trailing())
	}
}

func TestParseMessageWelcome(t *testing.T) {
	msg := ParseMessage(":tmi.twitch.tv 001 eloward_bot :Welcome, GLHF!")
	if msg.Command != RplWelcome {
		t.Fatalf("Command = %q, want %q", msg.Command, RplWelcome)
	}
	if msg.Prefix != "tmi.twitch.tv" {
		t.Errorf("Prefix = %q, want tmi.twitch.tv", msg.Prefix)
	}
	if got, want := msg.Params, []string{"eloward_bot", "Welcome, GLHF!"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Params = %v, want %v", got, want)
	}
}

func TestParseMessageNoTagsNoPrefix(t *testing.T) {
	msg := ParseMessage("JOIN #streamer")
	if msg.Command != CmdJoin {
		t.Fatalf("Command = %q, want JOIN", msg.Command)
	}
	if msg.Channel() != "#streamer" {
		t.Errorf("Channel() = %q, want #streamer", msg.Channel())
	}
	if msg.Prefix != "" {
		t.Errorf("Prefix = %q, want empty", msg.Prefix)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	tests := []string{"", "@badges=x", ":prefix-only"}
	for _, line := range tests {
		msg := ParseMessage(line)
		if msg.Command != "" {
			t.Errorf("ParseMessage(%q) = %+v, want zero Message", line, msg)
		}
	}
}

func TestUnescapeTagValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`hello\sworld`, "hello world"},
		{`semi\:colon`, "semi;colon"},
		{`back\\slash`, `back\slash`},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := unescapeTagValue(tt.in); got != tt.want {
			t.Errorf("unescapeTagValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got, want := FormatJoin("#streamer"), "JOIN #streamer"; got != want {
		t.Errorf("FormatJoin = %q, want %q", got, want)
	}
	if got, want := FormatPart("#streamer"), "PART #streamer"; got != want {
		t.Errorf("FormatPart = %q, want %q", got, want)
	}
	if got, want := FormatPrivmsg("#streamer", "hi"), "PRIVMSG #streamer :hi"; got != want {
		t.Errorf("FormatPrivmsg = %q, want %q", got, want)
	}
	if got, want := FormatPong("tmi.twitch.tv"), "PONG :tmi.twitch.tv"; got != want {
		t.Errorf("FormatPong = %q, want %q", got, want)
	}
}
