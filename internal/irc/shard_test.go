package irc

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeIRCServer accepts exactly one connection, records the registration
// lines it receives, sends back RPL_WELCOME, and then echoes back whatever
// the client sends afterward as lines this test can inspect.
type fakeIRCServer struct {
	ln net.Listener

	mu  sync.Mutex
	got []string
}

func startFakeIRCServer(t *testing.T) *fakeIRCServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeIRCServer{ln: ln}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeIRCServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		s.mu.Lock()
		s.got = append(s.got, line)
		s.mu.Unlock()

		if strings.HasPrefix(line, CmdUser) {
			conn.Write([]byte(":server.test 001 eloward_bot :Welcome, GLHF!\r\n"))
		}
	}
}

func (s *fakeIRCServer) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestShardRegistersAndFiresOnRegistered(t *testing.T) {
	srv := startFakeIRCServer(t)

	registered := make(chan struct{})
	handlers := EventHandlers{
		OnRegistered: func(s *Shard) { close(registered) },
	}
	shard := NewShard(0, srv.ln.Addr().String(), handlers, zerolog.Nop())
	shard.Start(t.Context(), Credentials{Nick: "eloward_bot", Token: "abc123"})
	defer shard.Quit("test done")

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("shard did not register within the timeout")
	}

	lines := srv.lines()
	joinedCmds := strings.Join(lines, "|")
	for _, want := range []string{"CAP REQ", "PASS oauth:abc123", "NICK eloward_bot", "USER eloward_bot"} {
		if !strings.Contains(joinedCmds, want) {
			t.Errorf("expected registration lines to contain %q, got %v", want, lines)
		}
	}
}

func TestShardJoinAndSay(t *testing.T) {
	srv := startFakeIRCServer(t)

	registered := make(chan struct{})
	handlers := EventHandlers{OnRegistered: func(s *Shard) { close(registered) }}
	shard := NewShard(1, srv.ln.Addr().String(), handlers, zerolog.Nop())
	shard.Start(t.Context(), Credentials{Nick: "eloward_bot", Token: "abc123"})
	defer shard.Quit("test done")

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("shard did not register within the timeout")
	}

	// The join scheduler's assign and part paths hand Join/Part a bare
	// login rather than a "#"-prefixed channel name; Join must normalize it
	// on the wire.
	if err := shard.Join("streamer"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := shard.Say("#streamer", "hello"); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if !shard.Holds("streamer") {
		t.Error("expected shard to hold streamer (bare login) after Join")
	}
	if !shard.Holds("#streamer") {
		t.Error("expected shard to hold #streamer (normalized form) after Join")
	}
	if shard.ChannelCount() != 1 {
		t.Errorf("ChannelCount() = %d, want 1", shard.ChannelCount())
	}

	joined := strings.Join(srv.lines(), "|")
	if !strings.Contains(joined, "JOIN #streamer") {
		t.Errorf("expected a wire-level \"JOIN #streamer\", got lines: %v", srv.lines())
	}

	if err := shard.Part("streamer"); err != nil {
		t.Fatalf("Part: %v", err)
	}
	if shard.Holds("#streamer") {
		t.Error("expected shard to no longer hold #streamer after Part")
	}
}

func TestMinHelper(t *testing.T) {
	if min(3, 5) != 3 {
		t.Error("min(3,5) should be 3")
	}
	if min(7, 2) != 2 {
		t.Error("min(7,2) should be 2")
	}
}
