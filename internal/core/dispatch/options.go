package dispatch

import (
	"github.com/zeusync/tachyon/internal/core/observability/log"
	"github.com/zeusync/tachyon/internal/core/observability/metrics"
	"github.com/zeusync/tachyon/internal/core/protocol"
	"github.com/zeusync/tachyon/internal/core/registry"
)

type options struct {
	logger  log.Log
	metrics *metrics.Dispatch
	codec   protocol.Codec
	shards  int
}

// Option configures a Dispatcher.
type Option func(*options)

// WithLogger sets the logger. Defaults to log.Provide().
func WithLogger(logger log.Log) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables prometheus collectors.
func WithMetrics(m *metrics.Dispatch) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithCodec replaces the JSON codec.
func WithCodec(codec protocol.Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithRegistryShards sets the shard count of the viewed-entity registry.
func WithRegistryShards(shards int) Option {
	return func(o *options) {
		o.shards = shards
	}
}

func defaultOptions() options {
	return options{
		codec:  protocol.JSONCodec{},
		shards: registry.DefaultShardCount,
	}
}
