package dsu

import (
	"time"
)

// Default configuration values.
const (
	defaultDialTimeout = 5 * time.Second
	defaultTimeout     = 10 * time.Second
	// defaultMaxLineLength bounds a single reply line (1MB).
	defaultMaxLineLength = 1024 * 1024
)

// options holds the configuration of a Client and its connections.
type options struct {
	logger Logger
	clock  func() time.Time

	port          int
	dialTimeout   time.Duration // bound on establishing the TCP connection
	timeout       time.Duration // deadline for each read and each write
	maxLineLength int           // maximum size of a single reply line
}

// Option configures a Client.
type Option func(*options)

// PortOption sets the server port. Defaults to DefaultPort.
func PortOption(port int) Option {
	return func(o *options) {
		o.port = port
	}
}

// DialTimeoutOption bounds how long connecting to the server may take.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// TimeoutOption sets the deadline applied to every request write and every
// reply read. A call makes at most two of each.
func TimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// MessageMaxSize sets the maximum size of a reply line. Longer replies fail
// with ErrMessageTooLarge.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxLineLength = size
	}
}

// LoggerOption sets the logger. If not set, slog.Default() is used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// ClockOption sets the time source used to stamp outgoing entries.
func ClockOption(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func newOptions(opt ...Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.port <= 0 {
		opts.port = DefaultPort
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}

	if opts.timeout <= 0 {
		opts.timeout = defaultTimeout
	}

	if opts.maxLineLength <= 0 {
		opts.maxLineLength = defaultMaxLineLength
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.clock == nil {
		opts.clock = time.Now
	}
}
