// Package bot turns chat messages into pairing commands and renders the replies.
package bot

import (
	"strings"
	"unicode"
)

// Event is one inbound group message delivered by the chat host.
type Event struct {
	GroupID    string   `json:"group_id"`
	UserID     string   `json:"user_id"`
	SenderName string   `json:"sender_name"`
	SelfID     string   `json:"self_id"`
	Text       string   `json:"text"`
	Mentions   []string `json:"mentions,omitempty"`
	IsAdmin    bool     `json:"is_admin"`
	// Session identifies the conversation so asynchronous notices can be routed back.
	Session string `json:"session"`
}

// Reply is what the chat host should send back to the group.
type Reply struct {
	Text      string `json:"text"`
	Image     []byte `json:"image,omitempty"`
	ImageMIME string `json:"image_mime,omitempty"`
}

// parseCommand splits "/name arg1 arg2" into a lower-cased name and its args.
// Text without a leading slash is not a command.
func parseCommand(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.ToLower(fields[0])
	// "/pair@botname" style suffixes
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return name, fields[1:]
}

// target picks the user a command is aimed at: the first mention, or else the
// first numeric argument.
func (e Event) target(args []string) string {
	for _, m := range e.Mentions {
		if m != "" && m != e.SelfID {
			return m
		}
	}
	if len(args) > 0 {
		return strings.TrimPrefix(args[0], "@")
	}
	return ""
}

func isNumeric(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}
