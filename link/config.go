package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-astm/frame"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/record"
)

// Default values. ASTM E1381 §6.5.2 allows a receiver 30s between frames and
// the sender 6 attempts per frame.
const (
	DefaultFrameTimeout      = 10 * time.Second
	DefaultInterFrameTimeout = 30 * time.Second
	DefaultPollInterval      = time.Second
	DefaultDrainTimeout      = 200 * time.Millisecond

	DefaultMaxRetriesPerFrame = 6
	DefaultMaxFrameSize       = 1024
	DefaultMaxRecordSize      = 1 << 20
)

// Range limits.
const (
	MinTimeout = 10 * time.Millisecond
	MaxTimeout = 10 * time.Minute

	MaxRetriesPerFrame = 99

	MinFrameSize  = 8
	MaxFrameSize  = 64 << 10
	MinRecordSize = 256
	MaxRecordSize = 64 << 20
)

// Config holds the immutable configuration of a Receiver.
type Config struct {
	name string

	frameTimeout      time.Duration
	interFrameTimeout time.Duration
	pollInterval      time.Duration
	drainTimeout      time.Duration

	maxRetries    int
	maxFrameSize  int
	maxRecordSize int

	// rejectHandshakeAfter is the number of frame errors after which the next
	// ENQ is answered with NAK. Zero disables rejection.
	rejectHandshakeAfter int

	delimiters       record.Delimiters
	fixedDelimiters  bool
	recordTerminator byte

	ignoreStrayBytes bool
	ackOnEOT         bool
	strict           bool

	firstSessionID uint64

	observer Observer
	logger   logger.Logger
}

// NewConfig creates a receiver configuration.
//
// opts are functional options applied in order; see With* functions.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		frameTimeout:      DefaultFrameTimeout,
		interFrameTimeout: DefaultInterFrameTimeout,
		pollInterval:      DefaultPollInterval,
		drainTimeout:      DefaultDrainTimeout,
		maxRetries:        DefaultMaxRetriesPerFrame,
		maxFrameSize:      DefaultMaxFrameSize,
		maxRecordSize:     DefaultMaxRecordSize,
		delimiters:        record.DefaultDelimiters,
		recordTerminator:  frame.CR,
		strict:            logger.IsDevelopment(),
		firstSessionID:    1,
		logger:            logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// Name returns the link name used in logs, events and sessions.
func (cfg *Config) Name() string { return cfg.name }

// FrameTimeout returns the inter-byte timeout inside a frame.
func (cfg *Config) FrameTimeout() time.Duration { return cfg.frameTimeout }

// InterFrameTimeout returns how long the receiver waits for the next frame or EOT.
func (cfg *Config) InterFrameTimeout() time.Duration { return cfg.interFrameTimeout }

// PollInterval returns the read timeout used while idle.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// DrainTimeout returns the silence period that ends discarding of an oversized frame.
func (cfg *Config) DrainTimeout() time.Duration { return cfg.drainTimeout }

// MaxRetriesPerFrame returns the number of NAKs sent for one frame before the session is aborted.
func (cfg *Config) MaxRetriesPerFrame() int { return cfg.maxRetries }

// MaxFrameSize returns the largest accepted frame in bytes, STX to LF.
func (cfg *Config) MaxFrameSize() int { return cfg.maxFrameSize }

// MaxRecordSize returns the largest accepted logical record in bytes.
func (cfg *Config) MaxRecordSize() int { return cfg.maxRecordSize }

// RejectHandshakeAfter returns the handshake rejection threshold; zero means disabled.
func (cfg *Config) RejectHandshakeAfter() int { return cfg.rejectHandshakeAfter }

// Delimiters returns the initial record delimiters.
func (cfg *Config) Delimiters() record.Delimiters { return cfg.delimiters }

// FixedDelimiters reports whether header delimiter declarations are ignored.
func (cfg *Config) FixedDelimiters() bool { return cfg.fixedDelimiters }

// RecordTerminator returns the byte separating records in the message text.
func (cfg *Config) RecordTerminator() byte { return cfg.recordTerminator }

// IgnoreStrayBytes reports whether unexpected bytes between frames are tolerated.
func (cfg *Config) IgnoreStrayBytes() bool { return cfg.ignoreStrayBytes }

// AckOnEOT reports whether EOT is answered with ACK.
func (cfg *Config) AckOnEOT() bool { return cfg.ackOnEOT }

// StrictViolations reports whether internal ordering violations panic.
func (cfg *Config) StrictViolations() bool { return cfg.strict }

// FirstSessionID returns the ID given to the first session.
func (cfg *Config) FirstSessionID() uint64 { return cfg.firstSessionID }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

func checkTimeout(name string, d time.Duration) error {
	if d < MinTimeout || d > MaxTimeout {
		return fmt.Errorf("link: %s %v out of range [%v, %v]", name, d, MinTimeout, MaxTimeout)
	}

	return nil
}

// WithName sets the link name.
func WithName(name string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.name = name
		return nil
	})
}

// WithFrameTimeout sets the inter-byte timeout inside a frame.
// A frame that stalls longer aborts the session.
func WithFrameTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("frame timeout", d); err != nil {
			return err
		}
		cfg.frameTimeout = d

		return nil
	})
}

// WithInterFrameTimeout sets how long to wait for the next frame or EOT.
func WithInterFrameTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("inter-frame timeout", d); err != nil {
			return err
		}
		cfg.interFrameTimeout = d

		return nil
	})
}

// WithPollInterval sets the read timeout used while waiting for ENQ.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("poll interval", d); err != nil {
			return err
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithDrainTimeout sets the line silence that ends discarding of an oversized frame.
func WithDrainTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkTimeout("drain timeout", d); err != nil {
			return err
		}
		cfg.drainTimeout = d

		return nil
	})
}

// WithMaxRetriesPerFrame sets how many NAKs are sent for one frame. The next
// failure aborts the session. Range: 0-99.
func WithMaxRetriesPerFrame(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 || n > MaxRetriesPerFrame {
			return fmt.Errorf("link: max retries %d out of range [0, %d]", n, MaxRetriesPerFrame)
		}
		cfg.maxRetries = n

		return nil
	})
}

// WithMaxFrameSize sets the largest accepted frame, STX to LF inclusive.
func WithMaxFrameSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinFrameSize || n > MaxFrameSize {
			return fmt.Errorf("link: max frame size %d out of range [%d, %d]", n, MinFrameSize, MaxFrameSize)
		}
		cfg.maxFrameSize = n

		return nil
	})
}

// WithMaxRecordSize sets the largest accepted logical record.
func WithMaxRecordSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinRecordSize || n > MaxRecordSize {
			return fmt.Errorf("link: max record size %d out of range [%d, %d]", n, MinRecordSize, MaxRecordSize)
		}
		cfg.maxRecordSize = n

		return nil
	})
}

// WithRejectHandshakeAfter answers ENQ with NAK once n frame errors have
// occurred on the current port. The error count restarts after each
// rejection. Zero disables rejection, which is the default.
func WithRejectHandshakeAfter(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 0 {
			return fmt.Errorf("link: reject handshake threshold %d must not be negative", n)
		}
		cfg.rejectHandshakeAfter = n

		return nil
	})
}

// WithDelimiters sets the record delimiters used until a header declares others.
func WithDelimiters(d record.Delimiters) Option {
	return optFunc(func(cfg *Config) error {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("link: %w", err)
		}
		cfg.delimiters = d

		return nil
	})
}

// WithFixedDelimiters makes the receiver ignore the delimiters declared in
// header records and always use the configured ones.
func WithFixedDelimiters(fixed bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.fixedDelimiters = fixed
		return nil
	})
}

// WithRecordTerminator sets the byte that separates records in the message text.
func WithRecordTerminator(b byte) Option {
	return optFunc(func(cfg *Config) error {
		switch b {
		case frame.STX, frame.ETX, frame.ETB, frame.ENQ, frame.EOT, frame.ACK, frame.NAK:
			return fmt.Errorf("link: record terminator %s is a control character", frame.ControlName(b))
		}
		cfg.recordTerminator = b

		return nil
	})
}

// WithIgnoreStrayBytes makes the receiver skip unexpected bytes between frames
// instead of answering them with NAK.
func WithIgnoreStrayBytes(ignore bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.ignoreStrayBytes = ignore
		return nil
	})
}

// WithAckOnEOT makes the receiver answer EOT with ACK, which some instruments expect.
func WithAckOnEOT(ack bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.ackOnEOT = ack
		return nil
	})
}

// WithStrictViolations sets whether internal ordering violations panic (true)
// or are logged and ignored (false). Defaults to true when ENV=development.
func WithStrictViolations(strict bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.strict = strict
		return nil
	})
}

// WithFirstSessionID sets the ID of the first session, e.g. to continue the
// numbering of a session store.
func WithFirstSessionID(id uint64) Option {
	return optFunc(func(cfg *Config) error {
		if id == 0 {
			return errors.New("link: first session ID must be positive")
		}
		cfg.firstSessionID = id

		return nil
	})
}

// WithObserver sets the observer that receives every link event.
func WithObserver(o Observer) Option {
	return optFunc(func(cfg *Config) error {
		cfg.observer = o
		return nil
	})
}

// WithLogger sets the logger for the receiver.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("link: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
