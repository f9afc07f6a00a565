// Package irc implements the wire protocol, shard lifecycle, and join
// scheduling for the bot's two chat-network connections.
package irc

import "strings"

// Commands and reply codes used by this client. Only the subset this bot
// actually sends or inspects is named; see the upstream protocol docs for
// the full command set.
const (
	CmdCap     = "CAP"
	CmdNick    = "NICK"
	CmdUser    = "USER"
	CmdPass    = "PASS"
	CmdJoin    = "JOIN"
	CmdPart    = "PART"
	CmdPrivmsg = "PRIVMSG"
	CmdNotice  = "NOTICE"
	CmdPing    = "PING"
	CmdPong    = "PONG"
	CmdQuit    = "QUIT"

	RplWelcome = "001" // successful registration
)

// Message is a parsed IRC line: optional tags, optional prefix, a command,
// and a parameter list where the last non-empty trailing parameter may
// contain spaces (the ":trailing" form).
type Message struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string
}

// Trailing returns the last parameter, or "" if there are none. For
// PRIVMSG this is the message text.
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Channel returns the first parameter for commands shaped like
// "CMD #channel ...".
func (m Message) Channel() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[0]
}

// Nick returns the nickname portion of the message prefix
// ("nick!user@host" or just "nick").
func (m Message) Nick() string {
	if i := strings.IndexByte(m.Prefix, '!'); i >= 0 {
		return m.Prefix[:i]
	}
	return m.Prefix
}

// ParseMessage parses a single raw IRC line (without the trailing CRLF).
// Malformed lines (empty, or a command with no tokens) return a zero
// Message; callers should drop these rather than error, since a chat
// network occasionally sends odd framing during a netsplit.
func ParseMessage(line string) Message {
	var msg Message

	if strings.HasPrefix(line, "@") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return Message{}
		}
		msg.Tags = parseTags(line[1:sp])
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if strings.HasPrefix(line, ":") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return Message{}
		}
		msg.Prefix = line[1:sp]
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	params, _ := splitParams(line)
	if len(params) == 0 {
		return Message{}
	}
	msg.Command = strings.ToUpper(params[0])
	msg.Params = params[1:]
	return msg
}

// splitParams splits middle parameters on spaces, stopping at a " :" that
// introduces the trailing parameter (which is appended as the final
// element, spaces intact).
func splitParams(line string) (params []string, trailing string) {
	idx := strings.Index(line, " :")
	if idx < 0 {
		if line == "" {
			return nil, ""
		}
		return strings.Fields(line), ""
	}
	head := strings.Fields(line[:idx])
	trailing = line[idx+2:]
	return append(head, trailing), trailing
}

// parseTags parses the IRCv3 tags blob ("k1=v1;k2=v2") into a map.
// Absent values map to "".
func parseTags(blob string) map[string]string {
	tags := make(map[string]string)
	for _, pair := range strings.Split(blob, ";") {
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			tags[pair[:eq]] = unescapeTagValue(pair[eq+1:])
		} else {
			tags[pair] = ""
		}
	}
	return tags
}

// unescapeTagValue reverses the IRCv3 tag-value escaping for the
// characters the server actually sends in practice.
func unescapeTagValue(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	replacer := strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")
	return replacer.Replace(v)
}

// FormatJoin formats a JOIN command for one or more comma-joined channels.
func FormatJoin(channel string) string {
	return CmdJoin + " " + channel
}

// FormatPart formats a PART command.
func FormatPart(channel string) string {
	return CmdPart + " " + channel
}

// FormatPrivmsg formats a PRIVMSG to a channel.
func FormatPrivmsg(channel, text string) string {
	return CmdPrivmsg + " " + channel + " :" + text
}

// FormatPong formats a PONG reply to a PING, echoing its payload.
func FormatPong(payload string) string {
	return CmdPong + " :" + payload
}
