package emit

import (
	"context"
	"log/slog"
)

// LogEmitter implements Emitter by writing structured records through
// log/slog. Unlike the teacher's raw io.Writer LogEmitter, this one
// defers formatting (text vs JSON) entirely to the slog.Handler the
// caller configured, so the same emitter works against a dev console
// handler or a production JSON handler without code changes.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter writing through logger. A nil logger
// falls back to slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs event at Info level, or Error when Meta carries an "error" key.
func (l *LogEmitter) Emit(event Event) {
	l.log(event)
}

func (l *LogEmitter) log(event Event) {
	attrs := []any{
		slog.String("run_id", event.RunID),
		slog.Int("step", event.Step),
		slog.String("node_id", event.NodeID),
	}
	for k, v := range event.Meta {
		attrs = append(attrs, slog.Any(k, v))
	}

	if errMsg, ok := event.Meta["error"]; ok {
		attrs = append(attrs, slog.Any("error", errMsg))
		l.logger.Error(event.Msg, attrs...)
		return
	}
	l.logger.Info(event.Msg, attrs...)
}

// EmitBatch logs each event in order. slog handlers write synchronously so
// no additional batching is needed beyond looping.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		l.log(event)
	}
	return nil
}

// Flush is a no-op: slog writes synchronously, there is no internal
// buffer to drain.
func (l *LogEmitter) Flush(_ context.Context) error {
	return nil
}

var _ Emitter = (*LogEmitter)(nil)
