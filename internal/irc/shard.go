package irc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eloward/eloward-bot/internal/metrics"
)

// Sayer is the subset of Shard needed to reply in a channel; the command
// interpreter and dispatcher depend on this instead of the concrete type
// so tests can substitute a fake.
type Sayer interface {
	Say(channel, text string) error
}

// Credentials is what a shard needs to register: nick and bearer token
// (without the oauth: prefix).
type Credentials struct {
	Nick  string
	Token string
}

// EventHandlers are the lifecycle and inbound-message callbacks a shard
// invokes. All are optional; a nil handler is simply skipped.
type EventHandlers struct {
	OnRegistered func(s *Shard)
	OnClosed     func(s *Shard, err error)
	OnMessage    func(s *Shard, msg Message)
}

// Shard owns exactly one long-lived text connection to the chat network.
// Its channel set and reconnect state are private; callers interact
// through Join/Part/Say and the lifecycle handlers.
type Shard struct {
	ID       int
	addr     string
	handlers EventHandlers
	logger   zerolog.Logger

	mu       sync.RWMutex
	conn     net.Conn
	writer   *bufio.Writer
	channels map[string]struct{}
	attempts int
	creds    Credentials

	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewShard creates a shard bound to addr (host:port of the chat network).
// It does not connect until Start is called.
func NewShard(id int, addr string, handlers EventHandlers, logger zerolog.Logger) *Shard {
	return &Shard{
		ID:       id,
		addr:     addr,
		handlers: handlers,
		logger:   logger.With().Int("shard_id", id).Logger(),
		channels: make(map[string]struct{}),
	}
}

// Start connects, registers, and begins the read loop in the background.
// A closed connection that isn't the result of Quit triggers a
// reconnect with exponential backoff capped at 30s.
func (s *Shard) Start(ctx context.Context, creds Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runLoop()
}

// Rotate installs new credentials, resets the backoff counter and closes
// the current connection, used when the credential provider observes a
// token rotation. The run loop then reconnects with the new credentials
// after the shortest backoff step (2s). The current connection's own error
// path would otherwise reconnect with the now-stale token.
func (s *Shard) Rotate(creds Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.attempts = 0
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *Shard) runLoop() {
	defer s.wg.Done()
	for {
		if s.ctx.Err() != nil {
			return
		}
		s.mu.RLock()
		creds := s.creds
		s.mu.RUnlock()
		if err := s.connectAndServe(creds); err != nil {
			s.logger.Warn().Err(err).Int("attempt", s.attempts).Msg("shard connection ended")
			if s.handlers.OnClosed != nil {
				s.handlers.OnClosed(s, err)
			}
		}
		if s.ctx.Err() != nil {
			return
		}

		s.attempts++
		backoff := time.Duration(1<<uint(min(s.attempts, 5))) * time.Second
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
		metrics.ReconnectsTotal.WithLabelValues("connection_closed").Inc()
		s.logger.Info().Dur("backoff", backoff).Msg("reconnecting shard")

		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (s *Shard) connectAndServe(creds Credentials) error {
	conn, err := net.DialTimeout("tcp", s.addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.writer = bufio.NewWriter(conn)
	s.mu.Unlock()

	if err := s.register(creds); err != nil {
		conn.Close()
		return fmt.Errorf("register: %w", err)
	}

	err = s.readLoop(conn)
	conn.Close()
	return err
}

func (s *Shard) register(creds Credentials) error {
	if err := s.writeRaw(CmdCap + " REQ :twitch.tv/membership twitch.tv/tags twitch.tv/commands"); err != nil {
		return err
	}
	if err := s.writeRaw(CmdPass + " oauth:" + creds.Token); err != nil {
		return err
	}
	if err := s.writeRaw(CmdNick + " " + creds.Nick); err != nil {
		return err
	}
	return s.writeRaw(CmdUser + " " + creds.Nick + " 0 * :" + creds.Nick)
}

func (s *Shard) readLoop(conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	registered := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		msg := ParseMessage(line)
		if msg.Command == "" {
			continue
		}

		switch msg.Command {
		case CmdPing:
			if err := s.writeRaw(FormatPong(msg.Trailing())); err != nil {
				return err
			}
			continue
		case RplWelcome:
			if !registered {
				registered = true
				s.attempts = 0
				if s.handlers.OnRegistered != nil {
					s.handlers.OnRegistered(s)
				}
			}
			continue
		}

		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(s, msg)
		}
	}
	return scanner.Err()
}

func (s *Shard) writeRaw(line string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.RLock()
	w := s.writer
	s.mu.RUnlock()
	if w == nil {
		return fmt.Errorf("shard %d: not connected", s.ID)
	}
	if _, err := w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

// normalizeChannel ensures channel carries the leading "#" the chat
// network requires on the wire. The join scheduler's assign and part
// paths, the control plane's /channels list, and pub/sub config_update
// payloads all traffic in bare lowercase logins (only Scheduler.Rejoin
// replays the already-prefixed names from Channels), so Join/Part/Holds
// normalize at this one boundary instead of pushing the prefix onto every
// caller.
func normalizeChannel(channel string) string {
	if strings.HasPrefix(channel, "#") {
		return channel
	}
	return "#" + channel
}

// Join sends a JOIN for channel and records it in the shard's local set.
// channel may be given with or without the leading "#".
func (s *Shard) Join(channel string) error {
	channel = normalizeChannel(channel)
	if err := s.writeRaw(FormatJoin(channel)); err != nil {
		return err
	}
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	s.mu.Unlock()
	metrics.JoinsTotal.Inc()
	return nil
}

// Part sends a PART for channel and removes it from the local set.
func (s *Shard) Part(channel string) error {
	channel = normalizeChannel(channel)
	if err := s.writeRaw(FormatPart(channel)); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
	metrics.PartsTotal.Inc()
	return nil
}

// Say sends a PRIVMSG to channel.
func (s *Shard) Say(channel, text string) error {
	return s.writeRaw(FormatPrivmsg(channel, text))
}

// Holds reports whether this shard currently carries channel.
func (s *Shard) Holds(channel string) bool {
	channel = normalizeChannel(channel)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

// ChannelCount returns the number of channels this shard currently carries.
func (s *Shard) ChannelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// Channels returns a snapshot of the channels this shard currently holds,
// in their normalized "#login" form. Used to re-JOIN after a reconnect,
// since the chat network does not remember previous membership across a
// fresh connection.
func (s *Shard) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// Quit sends a farewell QUIT and closes the connection. Shutdown-initiated
// closes do not trigger a reconnect.
func (s *Shard) Quit(message string) {
	s.cancel()
	_ = s.writeRaw(CmdQuit + " :" + message)
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

// Wait blocks until the shard's run loop has exited.
func (s *Shard) Wait() {
	s.wg.Wait()
}
