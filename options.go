package slidecache

import (
	"log/slog"

	"github.com/primelux/slidecache/codec"
	"github.com/primelux/slidecache/resource"
)

// Options holds configuration options for a Loader.
type Options struct {
	// Settings are the initial tunables. Zero fields take defaults.
	Settings Settings

	// Logger receives structured log output. Defaults to NoopLogger.
	Logger *Logger

	// MetricsCollector receives operational metrics. Defaults to noop.
	MetricsCollector MetricsCollector

	// ResourceController, when set, gates background decodes through its
	// load slots. Share one controller with a StoreDecoder to give the
	// whole pipeline a single backpressure point.
	ResourceController *resource.Controller

	// ColdTier holds compressed copies of recently evicted bitmaps.
	// Defaults to an S2 tier budgeted at a quarter of MaxMemoryMB.
	// Set ColdTierDisabled to run without one.
	ColdTier         *ColdTier
	ColdTierDisabled bool

	coldCodec codec.Codec
}

// Option configures a Loader.
type Option func(*Options)

// WithSettings sets the initial tunables.
func WithSettings(s Settings) Option {
	return func(o *Options) {
		o.Settings = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithSlogHandler sets a logger built from a raw slog handler.
func WithSlogHandler(h slog.Handler) Option {
	return func(o *Options) {
		o.Logger = NewLogger(h)
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *Options) {
		o.MetricsCollector = mc
	}
}

// WithResourceController sets the shared resource controller.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *Options) {
		o.ResourceController = rc
	}
}

// WithColdTier replaces the default demotion tier.
func WithColdTier(t *ColdTier) Option {
	return func(o *Options) {
		o.ColdTier = t
	}
}

// WithColdCodec keeps the default tier budget but swaps the codec, e.g.
// codec.LZ4{} for faster rehydration at a worse ratio.
func WithColdCodec(c codec.Codec) Option {
	return func(o *Options) {
		o.coldCodec = c
	}
}

// WithoutColdTier disables demotion entirely; evicted bitmaps are dropped.
func WithoutColdTier() Option {
	return func(o *Options) {
		o.ColdTierDisabled = true
	}
}
