package writer

import (
	"io"
	"log/slog"
	"time"

	"github.com/robert-malhotra/go-rtdc/errs"
	"github.com/robert-malhotra/go-rtdc/hdf5"
)

// Mode selects how a write treats existing content.
type Mode int

const (
	// Reset starts from an empty container. It is the default.
	Reset Mode = iota
	// Append grows existing datasets and keeps the container open.
	Append
	// Replace deletes and rewrites only the supplied features and logs.
	Replace
)

func (m Mode) String() string {
	switch m {
	case Reset:
		return "reset"
	case Append:
		return "append"
	case Replace:
		return "replace"
	}
	return "unknown"
}

func (m Mode) valid() bool {
	return m == Reset || m == Append || m == Replace
}

// ParseMode converts "append", "replace" or "reset" to a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Reset, Append, Replace} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, errs.Contractf("mode must be one of append, replace, reset; got %q", s)
}

// Option configures a write call.
type Option func(*options)

type options struct {
	meta        map[string]map[string]any
	logs        map[string][]string
	mode        Mode
	compression string
	logger      *slog.Logger
	metrics     *Metrics
	clock       func() time.Time
}

func defaultOptions() *options {
	return &options{
		mode:   Reset,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:  time.Now,
	}
}

// WithMeta sets the metadata written as section:key root attributes. Only
// sections and keys of the metadata vocabulary are accepted.
func WithMeta(meta map[string]map[string]any) Option {
	return func(o *options) { o.meta = meta }
}

// WithLogs sets log lines to store under logs/<name>.
func WithLogs(logs map[string][]string) Option {
	return func(o *options) { o.logs = logs }
}

// WithMode sets the write mode.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithCompression sets the compression used for contours and logs: "",
// "gzip", "zstd" or "lz4".
func WithCompression(name string) Option {
	return func(o *options) { o.compression = name }
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records writes in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock sets the time source used to measure write durations.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

func (o *options) validCompression() bool {
	switch o.compression {
	case "", "gzip", "zstd", "lz4":
		return true
	}
	return false
}

// compressionOpts returns the dataset options for the configured compression.
func (o *options) compressionOpts() []hdf5.DatasetOption {
	switch o.compression {
	case "gzip":
		return []hdf5.DatasetOption{hdf5.WithCompression(4)}
	case "zstd":
		return []hdf5.DatasetOption{hdf5.WithZstd(3)}
	case "lz4":
		return []hdf5.DatasetOption{hdf5.WithLZ4()}
	}
	return nil
}
