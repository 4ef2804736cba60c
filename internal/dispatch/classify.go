package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/frontiertower/towerbot/internal/bus"
	"github.com/frontiertower/towerbot/internal/command"
)

// ErrUsage marks a command that was recognized but cannot run as sent.
var ErrUsage = errors.New("usage")

// UsageError is a classification rejection answered with a usage hint.
// Command is empty for an unknown command in a private chat.
type UsageError struct {
	Command string
	Example string
}

func (e *UsageError) Error() string {
	if e.Command == "" {
		return "usage: unknown command"
	}
	return fmt.Sprintf("usage: /%s needs an argument", e.Command)
}

func (e *UsageError) Unwrap() error { return ErrUsage }

// Kind is what the dispatcher does with a classified message.
type Kind int

const (
	// KindDrop messages are ignored without a reply.
	KindDrop Kind = iota
	// KindPassive is group chatter recorded into the knowledge graph.
	KindPassive
	// KindCommand is a slash command routed to its category's agent.
	KindCommand
	// KindConversation is a private message routed to the conversation agent.
	KindConversation
	// KindBuiltin is /start, /help, /reset or /login.
	KindBuiltin
)

// Classification is the result of Classify.
type Classification struct {
	Kind     Kind
	Category command.Category
	// Command is the lowercase command name without slash or @bot suffix.
	Command string
	// Arg is the trimmed text after the command, or the whole text otherwise.
	Arg string
}

// Classify maps an inbound message to a category. It never consults reply
// context: a command needs its argument inline. A recognized command without
// an argument returns a *UsageError.
func Classify(msg *bus.InboundMessage, prefixes command.Prefixes) (Classification, error) {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return Classification{Kind: KindDrop, Category: command.Unclassified}, nil
	}

	if !strings.HasPrefix(text, "/") {
		if msg.IsGroup() {
			return Classification{Kind: KindPassive, Category: command.Unclassified, Arg: text}, nil
		}
		return Classification{Kind: KindConversation, Category: command.Conversation, Arg: text}, nil
	}

	head, arg := splitCommand(text)
	name, target, _ := strings.Cut(strings.ToLower(head[1:]), "@")
	if target != "" && msg.BotUsername != "" && !strings.EqualFold(target, strings.TrimPrefix(msg.BotUsername, "@")) {
		return Classification{Kind: KindDrop, Category: command.Unclassified}, nil
	}
	if name == "" {
		return Classification{Kind: KindDrop, Category: command.Unclassified}, nil
	}

	if command.IsBuiltin(name) {
		return Classification{Kind: KindBuiltin, Category: command.Unclassified, Command: name, Arg: arg}, nil
	}

	cat, ok := prefixes.Lookup(name)
	if !ok {
		if msg.IsGroup() {
			return Classification{Kind: KindDrop, Category: command.Unclassified, Command: name}, nil
		}
		return Classification{Kind: KindDrop, Category: command.Unclassified, Command: name}, &UsageError{}
	}
	if arg == "" {
		return Classification{Kind: KindDrop, Category: cat, Command: name},
			&UsageError{Command: name, Example: command.Example(name)}
	}
	return Classification{Kind: KindCommand, Category: cat, Command: name, Arg: arg}, nil
}

// splitCommand splits "/cmd rest of text" at the first whitespace.
func splitCommand(text string) (head, arg string) {
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}
