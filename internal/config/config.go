// Package config loads the astmd daemon configuration from a YAML or TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-astm/link"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/record"
	"github.com/arloliu/go-astm/transport"
)

// DefaultReopenDelay is the wait before a failed link is reopened.
const DefaultReopenDelay = 5 * time.Second

// ErrUnsupportedFormat is returned for a config file that is neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Duration is a time.Duration written as a Go duration string, e.g. "15s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)

	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the daemon configuration.
type Config struct {
	Links  []LinkConfig `yaml:"links" toml:"links"`
	Output OutputConfig `yaml:"output" toml:"output"`
	Logs   LogConfig    `yaml:"logs" toml:"logs"`
}

// LinkConfig describes one instrument connection. Exactly one of Serial and
// TCP must be set.
type LinkConfig struct {
	Name string `yaml:"name" toml:"name"`

	Serial   string `yaml:"serial" toml:"serial"`
	BaudRate int    `yaml:"baudRate" toml:"baud_rate"`
	DataBits int    `yaml:"dataBits" toml:"data_bits"`
	Parity   string `yaml:"parity" toml:"parity"`
	StopBits int    `yaml:"stopBits" toml:"stop_bits"`

	TCP         string   `yaml:"tcp" toml:"tcp"`
	DialTimeout Duration `yaml:"dialTimeout" toml:"dial_timeout"`

	FrameTimeout         Duration `yaml:"frameTimeout" toml:"frame_timeout"`
	InterFrameTimeout    Duration `yaml:"interFrameTimeout" toml:"inter_frame_timeout"`
	PollInterval         Duration `yaml:"pollInterval" toml:"poll_interval"`
	MaxRetriesPerFrame   *int     `yaml:"maxRetriesPerFrame" toml:"max_retries_per_frame"`
	MaxFrameSize         int      `yaml:"maxFrameSize" toml:"max_frame_size"`
	MaxRecordSize        int      `yaml:"maxRecordSize" toml:"max_record_size"`
	RejectHandshakeAfter int      `yaml:"rejectHandshakeAfter" toml:"reject_handshake_after"`
	Delimiters           string   `yaml:"delimiters" toml:"delimiters"`
	FixedDelimiters      bool     `yaml:"fixedDelimiters" toml:"fixed_delimiters"`
	IgnoreStrayBytes     bool     `yaml:"ignoreStrayBytes" toml:"ignore_stray_bytes"`
	AckOnEOT             bool     `yaml:"ackOnEOT" toml:"ack_on_eot"`
	ReopenDelay          Duration `yaml:"reopenDelay" toml:"reopen_delay"`
}

// OutputConfig selects the session sinks. Empty fields disable a sink.
type OutputConfig struct {
	JSONDir    string `yaml:"jsonDir" toml:"json_dir"`
	SQLitePath string `yaml:"sqlitePath" toml:"sqlite_path"`
	PDFDir     string `yaml:"pdfDir" toml:"pdf_dir"`
}

// LogConfig configures the daemon log. An empty File logs to stdout only.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" toml:"max_size_mb"`
	MaxAgeDays int    `yaml:"maxAgeDays" toml:"max_age_days"`
	MaxBackups int    `yaml:"maxBackups" toml:"max_backups"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// Load reads the file at path, choosing the format by extension (.yaml, .yml
// or .toml). Relative output and log paths are resolved against the
// directory of the file.
func Load(path string) (*Config, error) {
	var cfg Config

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	cfg.resolvePaths(filepath.Dir(path))
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}

	resolve(&cfg.Output.JSONDir)
	resolve(&cfg.Output.SQLitePath)
	resolve(&cfg.Output.PDFDir)
	resolve(&cfg.Logs.File)
}

func (cfg *Config) applyDefaults() {
	if cfg.Logs.Level == "" {
		cfg.Logs.Level = "info"
	}

	if cfg.Logs.MaxSizeMB == 0 {
		cfg.Logs.MaxSizeMB = 100
	}

	for i := range cfg.Links {
		lc := &cfg.Links[i]
		if lc.Name == "" {
			lc.Name = fmt.Sprintf("link-%d", i+1)
		}

		if lc.ReopenDelay == 0 {
			lc.ReopenDelay = Duration(DefaultReopenDelay)
		}

		if lc.DialTimeout == 0 {
			lc.DialTimeout = Duration(10 * time.Second)
		}
	}
}

// Validate checks the links and their receiver options.
func (cfg *Config) Validate() error {
	if len(cfg.Links) == 0 {
		return errors.New("config: no links configured")
	}

	seen := make(map[string]bool, len(cfg.Links))
	for _, lc := range cfg.Links {
		if seen[lc.Name] {
			return fmt.Errorf("config: duplicate link name %q", lc.Name)
		}
		seen[lc.Name] = true

		if (lc.Serial == "") == (lc.TCP == "") {
			return fmt.Errorf("config: link %q: exactly one of serial and tcp must be set", lc.Name)
		}

		if _, err := lc.Options(logger.GetLogger()); err != nil {
			return fmt.Errorf("config: link %q: %w", lc.Name, err)
		}
	}

	return nil
}

// SerialConfig returns the serial line settings of the link.
func (lc LinkConfig) SerialConfig() transport.SerialConfig {
	return transport.SerialConfig{
		BaudRate: lc.BaudRate,
		DataBits: lc.DataBits,
		Parity:   lc.Parity,
		StopBits: lc.StopBits,
	}
}

// Options converts the link settings to receiver options. Unset fields keep
// the receiver defaults.
func (lc LinkConfig) Options(l logger.Logger) ([]link.Option, error) {
	opts := []link.Option{link.WithName(lc.Name)}
	if l != nil {
		opts = append(opts, link.WithLogger(l))
	}

	if lc.FrameTimeout != 0 {
		opts = append(opts, link.WithFrameTimeout(time.Duration(lc.FrameTimeout)))
	}

	if lc.InterFrameTimeout != 0 {
		opts = append(opts, link.WithInterFrameTimeout(time.Duration(lc.InterFrameTimeout)))
	}

	if lc.PollInterval != 0 {
		opts = append(opts, link.WithPollInterval(time.Duration(lc.PollInterval)))
	}

	if lc.MaxRetriesPerFrame != nil {
		opts = append(opts, link.WithMaxRetriesPerFrame(*lc.MaxRetriesPerFrame))
	}

	if lc.MaxFrameSize != 0 {
		opts = append(opts, link.WithMaxFrameSize(lc.MaxFrameSize))
	}

	if lc.MaxRecordSize != 0 {
		opts = append(opts, link.WithMaxRecordSize(lc.MaxRecordSize))
	}

	if lc.RejectHandshakeAfter != 0 {
		opts = append(opts, link.WithRejectHandshakeAfter(lc.RejectHandshakeAfter))
	}

	if lc.Delimiters != "" {
		d, err := record.ParseDelimiters(string(record.TypeHeader) + lc.Delimiters)
		if err != nil || len(lc.Delimiters) != 4 {
			return nil, fmt.Errorf("delimiters %q: want four distinct separators in field, repeat, component, escape order", lc.Delimiters)
		}
		opts = append(opts, link.WithDelimiters(d))
	}

	opts = append(opts,
		link.WithFixedDelimiters(lc.FixedDelimiters),
		link.WithIgnoreStrayBytes(lc.IgnoreStrayBytes),
		link.WithAckOnEOT(lc.AckOnEOT),
	)

	if _, err := link.NewConfig(opts...); err != nil {
		return nil, err
	}

	return opts, nil
}
