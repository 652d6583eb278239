// Package plugin defines the protocol user-supplied Source, Transform, Gate,
// Sink, and Aggregation implementations satisfy (spec §6). The orchestrator
// in landscape/orchestrator only ever talks to plugins through these
// interfaces — it never introspects a plugin's concrete type, matching the
// "dynamic introspection replaced with a registration interface" design
// note: every plugin declares its determinism and schemas once, at
// registration, through Meta.
package plugin

import (
	"context"

	"github.com/landscaperun/landscape/landscape"
)

// Meta is the required surface every plugin declares at registration:
// name, version, determinism, and the schema contracts its rows are
// produced under / expected to satisfy. Determinism has no usable zero
// value — landscape.NodeRecord.Validate already fails closed on an
// undeclared determinism, and Meta feeds that field directly.
type Meta struct {
	Name          string
	PluginVersion string
	Determinism   landscape.Determinism
	InputSchema   *landscape.SchemaContract
	OutputSchema  *landscape.SchemaContract

	// IsBatchAware marks a Transform/Aggregation that also implements
	// BatchProcessor, letting the orchestrator submit many rows in one
	// call instead of one row at a time (spec §4.8 batch adapter).
	IsBatchAware bool
}

// Source yields rows read from an external location (a file, a table, an
// API). Next returns ok=false with a nil error once the source is
// exhausted; a non-nil error always takes precedence over ok.
type Source interface {
	Meta() Meta
	Next(ctx context.Context) (row landscape.PipelineRow, ok bool, err error)
}

// Transform maps one input row to a TransformResult. Framework-level
// failures (panics, nil pointer dereferences recovered by the caller)
// should surface as a non-nil error; plugin-reported failures belong in
// the TransformResult's error variant instead so the processor can tell
// "my code crashed" apart from "this row failed validation" (spec §7).
type Transform interface {
	Meta() Meta
	Process(ctx context.Context, row landscape.PipelineRow) (TransformResult, error)
}

// BatchProcessor is the batch-aware counterpart of Transform (spec §4.8).
// A plugin whose Meta.IsBatchAware is true must also implement this so the
// batch adapter can submit the whole in-flight set in one call.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, rows []landscape.PipelineRow) (TransformResult, error)
}

// Gate evaluates a row and returns the RoutingAction that decides which
// edge(s) the row's token travels next (spec §4.3).
type Gate interface {
	Meta() Meta
	Evaluate(ctx context.Context, row landscape.PipelineRow) (landscape.RoutingAction, error)
}

// AggregationOutputMode controls how an aggregation node's batch result is
// fed back into the token stream (spec §4.12).
type AggregationOutputMode string

const (
	// AggregationOutputPassthrough gives each buffered token its own
	// terminal outcome once the batch flushes; no new tokens are created.
	AggregationOutputPassthrough AggregationOutputMode = "passthrough"
	// AggregationOutputTransform emits new tokens carrying an
	// expand_group_id, all children of the first buffered token, which
	// receives the EXPANDED outcome; every other input token that fed the
	// batch receives CONSUMED_IN_BATCH, not EXPANDED.
	AggregationOutputTransform AggregationOutputMode = "transform"
)

// Aggregation consumes a batch of rows collected by the trigger evaluator
// (spec §4.7) and produces one TransformResult for the whole batch.
type Aggregation interface {
	Meta() Meta
	OutputMode() AggregationOutputMode
	Aggregate(ctx context.Context, batch []landscape.PipelineRow) (TransformResult, error)
}

// ArtifactDescriptor is what a Sink hands back from Write: everything the
// orchestrator needs to persist an Artifact row except the identifiers
// (run_id, sink_node_id, artifact_id) it assigns itself (spec §3, §6).
type ArtifactDescriptor struct {
	PathOrURI      string
	ContentHash    string
	SizeBytes      int64
	IdempotencyKey string
}

// Sink writes a batch of rows to an external destination and describes
// what it wrote. Flush and Close are distinct because a sink may buffer
// writes across several batches and only materialize them on Flush, while
// Close additionally releases resources (file handles, connections) and
// is not expected to be called again afterward (spec §6).
type Sink interface {
	Meta() Meta
	Write(ctx context.Context, batch []landscape.PipelineRow) (ArtifactDescriptor, error)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error

	// SupportsResume reports whether ConfigureForResume is meaningful for
	// this sink. Sinks that always start clean (e.g. a fresh temp file
	// per run) return false.
	SupportsResume() bool
	// ConfigureForResume prepares the sink to continue writing after a
	// checkpoint restore, e.g. seeking past previously-committed bytes or
	// reopening a destination in append mode.
	ConfigureForResume(ctx context.Context) error
}
