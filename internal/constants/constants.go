package constants

// Channel sizing constants
const (
	// DefaultMaxOutstanding is the default number of concurrently in-flight
	// requests a channel is sized for. The identifier window and the ring
	// slot count are both twice this, rounded up to a power of two.
	DefaultMaxOutstanding = 32768

	// PerShardIDCache is the maximum number of free identifiers a shard
	// keeps locally before flushing half of them back to the global reserve
	PerShardIDCache = 256

	// DefaultReadBufferSize is the default serialization buffer size for one
	// outbound read batch (1MB)
	DefaultReadBufferSize = 1 << 20

	// MaxMessageSize bounds a single inbound consumer message
	MaxMessageSize = 4 << 20
)

// Block geometry constants
const (
	// LogicalBlockSize is the logical block size in bytes
	LogicalBlockSize = 512

	// DefaultDiscardGranularity is the default discard granularity in bytes
	DefaultDiscardGranularity = 4096
)
