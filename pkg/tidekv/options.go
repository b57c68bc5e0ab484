package tidekv

import (
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tidekv/internal/infra/shutdown"
	"github.com/yndnr/tidekv/internal/storage/journal"
)

// Option configures a DB.
type Option[V any] func(*options[V])

type options[V any] struct {
	defaultFunc func(key string) V
	keyCodec    KeyCodec
	valueCodec  ValueCodec[V]
	format      journal.Format
	fileMode    os.FileMode
	logger      *slog.Logger
	registerer  prometheus.Registerer
	registry    *shutdown.Registry
	autoSync    time.Duration
	syncHook    func(error)
}

func defaultOptions[V any]() options[V] {
	return options[V]{
		keyCodec:   RawKeys{},
		valueCodec: JSONCodec[V]{},
		format:     journal.DefaultFormat(),
		fileMode:   journal.DefaultFileMode,
		registry:   shutdown.DefaultRegistry,
	}
}

// WithDefault makes a lookup of a missing key store and return v.
func WithDefault[V any](v V) Option[V] {
	return func(o *options[V]) {
		o.defaultFunc = func(string) V { return v }
	}
}

// WithDefaultFunc makes a lookup of a missing key store and return fn(key).
// fn runs with the store's write lock held and must not call the store.
func WithDefaultFunc[V any](fn func(key string) V) Option[V] {
	return func(o *options[V]) {
		o.defaultFunc = fn
	}
}

// WithKeyCodec sets the key normalization. The default is RawKeys.
func WithKeyCodec[V any](c KeyCodec) Option[V] {
	return func(o *options[V]) {
		o.keyCodec = c
	}
}

// WithValueCodec sets the value codec. The default is JSONCodec.
func WithValueCodec[V any](c ValueCodec[V]) Option[V] {
	return func(o *options[V]) {
		o.valueCodec = c
	}
}

// WithFormat sets the file format.
func WithFormat[V any](f journal.Format) Option[V] {
	return func(o *options[V]) {
		o.format = f
	}
}

// WithFileMode sets the permissions used when the file is created.
func WithFileMode[V any](mode os.FileMode) Option[V] {
	return func(o *options[V]) {
		o.fileMode = mode
	}
}

// WithLogger sets the logger. The default is slog.Default.
func WithLogger[V any](l *slog.Logger) Option[V] {
	return func(o *options[V]) {
		o.logger = l
	}
}

// WithMetrics registers journal metrics and a store collector with r.
func WithMetrics[V any](r prometheus.Registerer) Option[V] {
	return func(o *options[V]) {
		o.registerer = r
	}
}

// WithRegistry sets the open-store registry. nil disables registration.
func WithRegistry[V any](r *shutdown.Registry) Option[V] {
	return func(o *options[V]) {
		o.registry = r
	}
}

// WithAutoSync reloads the store when another process changes the file, at
// most once per interval.
func WithAutoSync[V any](interval time.Duration) Option[V] {
	return func(o *options[V]) {
		o.autoSync = interval
	}
}

// WithSyncHook is called after every automatic reload with its result.
func WithSyncHook[V any](fn func(error)) Option[V] {
	return func(o *options[V]) {
		o.syncHook = fn
	}
}
