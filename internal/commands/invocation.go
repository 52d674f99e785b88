package commands

import (
	"context"
	"errors"
	"strings"

	"github.com/haasonsaas/cmdrelay/pkg/models"
)

// FlagMarker prefixes remainder tokens that are flags rather than args.
const FlagMarker = "--"

// ErrEmptyReply is returned when a reply has no content.
var ErrEmptyReply = errors.New("reply content is empty")

// SendCallback receives the outcome of a queued send. It runs on the
// sender's goroutine, not the handler's.
type SendCallback = func(sent *models.Message, err error)

// Replier queues plain-text messages for delivery. QueueMessage returns once
// the message is accepted; delivery happens later and is reported through
// done when it is non-nil.
type Replier interface {
	QueueMessage(ctx context.Context, channelID, content string, done SendCallback) error
}

// Invocation is handed to a command for a single resolved message.
type Invocation struct {
	// Name is the token the user typed, which may be an alias.
	Name string

	// Args are the remainder tokens that are not flags, in order.
	Args []string

	// Flags are the remainder tokens that start with "--", marker stripped,
	// in order.
	Flags []string

	// Message is the inbound message that triggered the command.
	Message *models.Message

	// Command is the resolved registry entry.
	Command Command

	// RequestID correlates logs, traces and audit entries for this call.
	RequestID string

	replier Replier
}

// NewInvocation tokenizes remainder and binds the result to msg.
func NewInvocation(name, remainder string, msg *models.Message, cmd Command, replier Replier) *Invocation {
	args, flags := Tokenize(remainder)
	return &Invocation{
		Name:    name,
		Args:    args,
		Flags:   flags,
		Message: msg,
		Command: cmd,
		replier: replier,
	}
}

// Tokenize splits a command remainder into positional args and flags.
//
// Tokens are separated by runs of whitespace. A token starting with "--"
// becomes a flag with the marker removed, so "--" alone yields an empty
// flag name. Everything after the marker is kept verbatim; "--a=b" is the
// flag "a=b". Quoting is not supported.
func Tokenize(remainder string) (args, flags []string) {
	args = []string{}
	flags = []string{}
	if remainder == "" {
		return args, flags
	}

	for _, token := range strings.Fields(remainder) {
		if strings.HasPrefix(token, FlagMarker) {
			flags = append(flags, token[len(FlagMarker):])
		} else {
			args = append(args, token)
		}
	}
	return args, flags
}

// HasFlag reports whether the caller passed --name. The comparison ignores case.
func (inv *Invocation) HasFlag(name string) bool {
	return containsFold(inv.Flags, name)
}

// Arg returns the i-th positional argument or "" when absent.
func (inv *Invocation) Arg(i int) string {
	if i < 0 || i >= len(inv.Args) {
		return ""
	}
	return inv.Args[i]
}

// Rest joins the positional arguments with single spaces.
func (inv *Invocation) Rest() string {
	return strings.Join(inv.Args, " ")
}

// HasGuild reports whether the command was invoked inside a guild.
func (inv *Invocation) HasGuild() bool {
	return inv.Message.HasGuild()
}

// AuthorID returns the invoking user's ID.
func (inv *Invocation) AuthorID() string {
	if inv.Message == nil {
		return ""
	}
	return inv.Message.AuthorID
}

// ChannelID returns the channel the command was invoked in.
func (inv *Invocation) ChannelID() string {
	if inv.Message == nil {
		return ""
	}
	return inv.Message.ChannelID
}

// GuildID returns the guild the command was invoked in, or "".
func (inv *Invocation) GuildID() string {
	if inv.Message == nil {
		return ""
	}
	return inv.Message.GuildID
}

// Reply queues content to the invoking channel without waiting for delivery.
func (inv *Invocation) Reply(ctx context.Context, content string) error {
	return inv.ReplyThen(ctx, content, nil)
}

// ReplyThen queues content and calls done once the send completes.
func (inv *Invocation) ReplyThen(ctx context.Context, content string, done SendCallback) error {
	if content == "" {
		return ErrEmptyReply
	}
	if inv.replier == nil {
		return errors.New("invocation has no replier")
	}
	return inv.replier.QueueMessage(ctx, inv.ChannelID(), content, done)
}
