package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogChannelName nome del canale log
const LogChannelName = "log"

// LogChannel scrive gli eventi sul logger strutturato
type LogChannel struct {
	logger *zerolog.Logger
}

// NewLogChannel crea un nuovo canale log
func NewLogChannel(logger *zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Name implementa Channel
func (lc *LogChannel) Name() string { return LogChannelName }

// Send implementa Channel
func (lc *LogChannel) Send(ctx context.Context, event Event) error {
	var ev *zerolog.Event
	switch event.Severity() {
	case SeverityError:
		ev = lc.logger.Error()
	case SeverityWarning:
		ev = lc.logger.Warn()
	default:
		ev = lc.logger.Info()
	}

	ev.Str("event_type", string(event.Type())).
		Str("severity", string(event.Severity())).
		Str("event_time", event.Timestamp().Format(time.RFC3339)).
		Fields(event.Metadata()).
		Msg(event.Message())
	return nil
}
