package bot

import (
	"context"

	"github.com/haasonsaas/cmdrelay/internal/audit"
	"github.com/haasonsaas/cmdrelay/internal/commands"
	"github.com/haasonsaas/cmdrelay/internal/observability"
)

func metricsObserver(m *observability.Metrics) commands.Observer {
	return commands.ObserverFunc(func(ctx context.Context, rec commands.Record) {
		m.RecordCommand(rec.Command, string(rec.Outcome), rec.Duration)
		if rec.Outcome == commands.OutcomeFailed {
			m.RecordError("dispatcher", "handler")
		}
	})
}

// auditObserver records resolved commands only; misses carry no command.
func auditObserver(log *audit.Logger) commands.Observer {
	return commands.ObserverFunc(func(ctx context.Context, rec commands.Record) {
		if rec.Command == "" {
			return
		}
		entry := &audit.Entry{
			Timestamp: rec.Started,
			RequestID: rec.RequestID,
			Command:   rec.Command,
			AuthorID:  rec.AuthorID,
			ChannelID: rec.ChannelID,
			GuildID:   rec.GuildID,
			Outcome:   string(rec.Outcome),
			Duration:  rec.Duration,
		}
		if rec.Invoked != rec.Command {
			entry.Alias = rec.Invoked
		}
		if rec.Err != nil {
			entry.Error = rec.Err.Error()
		}
		log.Log(ctx, entry)
	})
}
