package emit

import "context"

// NullEmitter discards every event. Useful for tests and for CLI
// invocations (validate, replay) that don't need telemetry.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter. Safe for concurrent use, zero
// overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (n *NullEmitter) Flush(context.Context) error { return nil }

var _ Emitter = (*NullEmitter)(nil)
