package dispatch

import (
	"log/slog"
	"time"
)

// Default configuration values
var (
	// DefaultCacheCapacity is the parse-result cache capacity when a
	// definition enables the cache without an explicit size.
	DefaultCacheCapacity = 1000

	// DefaultCacheTTL is the parse-result cache entry lifetime when a
	// definition enables the cache without an explicit TTL.
	DefaultCacheTTL = 5 * time.Minute
)

// options holds dispatcher configuration (unexported).
type options struct {
	workerID int64
	bus      *Bus
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*options)

// WithWorkerID sets the dispatcher's worker identity. The id is
// stamped into generated envelope ids and used as the default From on
// created envelopes. Default is 0.
func WithWorkerID(id int64) Option {
	return func(o *options) {
		o.workerID = id
	}
}

// WithBus injects a bus instead of the default-constructed one.
func WithBus(b *Bus) Option {
	return func(o *options) {
		if b != nil {
			o.bus = b
		}
	}
}

// WithLogger sets a custom logger for the dispatcher and, when the bus
// is default-constructed, for the bus too.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// busOptions holds bus configuration (unexported).
type busOptions struct {
	workerID        int64
	maxTimeout      time.Duration
	logger          *slog.Logger
	tracingEnabled  bool
	metricsEnabled  bool
	recoveryEnabled bool
}

// BusOption configures a Bus.
type BusOption func(*busOptions)

// WithBusWorkerID sets the worker identity used for targeted delivery.
// Envelopes whose To list does not contain this id are not delivered.
// Default is 0.
func WithBusWorkerID(id int64) BusOption {
	return func(o *busOptions) {
		o.workerID = id
	}
}

// WithMaxTimeout bounds how long Emit waits for each handler to
// settle. A handler that runs longer is abandoned (not cancelled) and
// recorded as timed out. Zero (the default) waits indefinitely.
func WithMaxTimeout(d time.Duration) BusOption {
	return func(o *busOptions) {
		if d > 0 {
			o.maxTimeout = d
		}
	}
}

// WithBusLogger sets a custom logger for the bus.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(o *busOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBusTracing enables/disables OpenTelemetry tracing for deliveries.
func WithBusTracing(enabled bool) BusOption {
	return func(o *busOptions) {
		o.tracingEnabled = enabled
	}
}

// WithBusMetrics enables/disables OpenTelemetry metrics.
func WithBusMetrics(enabled bool) BusOption {
	return func(o *busOptions) {
		o.metricsEnabled = enabled
	}
}

// WithBusRecovery enables/disables panic recovery in handlers.
// Recovery should always be enabled; it can be disabled for testing.
func WithBusRecovery(enabled bool) BusOption {
	return func(o *busOptions) {
		o.recoveryEnabled = enabled
	}
}

func newBusOptions(opts ...BusOption) *busOptions {
	o := &busOptions{
		logger:          slog.Default(),
		tracingEnabled:  true,
		metricsEnabled:  true,
		recoveryEnabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// definitionOptions holds definition configuration (unexported).
type definitionOptions struct {
	defaultTags    []string
	defaultPayload any
	cacheEnabled   bool
	cacheCapacity  int
	cacheTTL       time.Duration
}

// DefinitionOption configures a Definition.
type DefinitionOption func(*definitionOptions)

// WithDefaultTags sets tags prepended to every envelope the definition
// creates.
func WithDefaultTags(tags ...string) DefinitionOption {
	return func(o *definitionOptions) {
		o.defaultTags = tags
	}
}

// WithDefaultPayload sets the payload used when Create is called with
// a nil payload. It must conform to the definition's shape.
func WithDefaultPayload(payload any) DefinitionOption {
	return func(o *definitionOptions) {
		o.defaultPayload = payload
	}
}

// WithResultCache enables the parse-result cache keyed by envelope id,
// so repeated validation of the same identified envelope is O(1) after
// the first parse. Zero capacity or TTL fall back to
// DefaultCacheCapacity / DefaultCacheTTL.
func WithResultCache(capacity int, ttl time.Duration) DefinitionOption {
	return func(o *definitionOptions) {
		o.cacheEnabled = true
		o.cacheCapacity = capacity
		o.cacheTTL = ttl
	}
}

func newDefinitionOptions(opts ...DefinitionOption) *definitionOptions {
	o := &definitionOptions{
		cacheCapacity: DefaultCacheCapacity,
		cacheTTL:      DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cacheCapacity == 0 {
		o.cacheCapacity = DefaultCacheCapacity
	}
	if o.cacheTTL == 0 {
		o.cacheTTL = DefaultCacheTTL
	}
	return o
}

// createOptions holds per-envelope construction overrides (unexported).
type createOptions struct {
	payload any
	tags    []string
	from    *int64
	to      []int64
}

// CreateOption overrides envelope construction defaults.
type CreateOption func(*createOptions)

// WithPayload overrides the positional payload argument. Useful when
// composing option slices.
func WithPayload(payload any) CreateOption {
	return func(o *createOptions) {
		o.payload = payload
	}
}

// WithTags appends call-site tags after the definition's default tags.
func WithTags(tags ...string) CreateOption {
	return func(o *createOptions) {
		o.tags = tags
	}
}

// WithFrom overrides the originating worker id. Default is the
// dispatcher's worker id.
func WithFrom(workerID int64) CreateOption {
	return func(o *createOptions) {
		o.from = &workerID
	}
}

// WithTo targets the envelope at specific workers. Absent (the
// default) the envelope is broadcast.
func WithTo(workerIDs ...int64) CreateOption {
	return func(o *createOptions) {
		o.to = workerIDs
	}
}

func newCreateOptions(opts ...CreateOption) *createOptions {
	o := &createOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
