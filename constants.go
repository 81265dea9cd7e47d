package blkchan

import "github.com/blkchan/go-blkchan/internal/constants"

// Re-export constants for public API
const (
	DefaultMaxOutstanding     = constants.DefaultMaxOutstanding
	PerShardIDCache           = constants.PerShardIDCache
	DefaultReadBufferSize     = constants.DefaultReadBufferSize
	MaxMessageSize            = constants.MaxMessageSize
	LogicalBlockSize          = constants.LogicalBlockSize
	DefaultDiscardGranularity = constants.DefaultDiscardGranularity
)
