// Command astmd receives ASTM E1381/LIS2-A2 transmissions from one or more
// instruments and stores every session as JSON files, SQLite rows and PDF
// reports, as configured.
//
// Usage:
//
//	astmd -config /etc/astmd/astmd.yaml
//	astmd -list-ports
//	astmd -config astmd.yaml -list-sessions 20
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arloliu/go-astm/gateway"
	"github.com/arloliu/go-astm/internal/config"
	"github.com/arloliu/go-astm/link"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/report"
	"github.com/arloliu/go-astm/session"
	"github.com/arloliu/go-astm/store"
	"github.com/arloliu/go-astm/transport"
)

func main() {
	configPath := flag.String("config", "astmd.yaml", "path to the YAML or TOML configuration file")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	listSessions := flag.Int("list-sessions", 0, "print the N most recent stored sessions and exit")
	statusInterval := flag.Duration("status-interval", time.Minute, "link status log interval, 0 to disable")
	flag.Parse()

	if *listPorts {
		if err := printPorts(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *listSessions > 0 {
		if err := printSessions(os.Stdout, cfg, *listSessions); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		return
	}

	log, closeLog, err := setupLogging(cfg.Logs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, log, *statusInterval); err != nil {
		log.Error("astmd: exit", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger, statusInterval time.Duration) error {
	sink, db, err := openSinks(cfg.Output, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	specs := make([]gateway.LinkSpec, 0, len(cfg.Links))
	for _, lc := range cfg.Links {
		opts, err := lc.Options(log)
		if err != nil {
			return fmt.Errorf("link %q: %w", lc.Name, err)
		}

		// Continue the session numbering of the previous run.
		if db != nil {
			last, err := db.LastID(ctx, lc.Name)
			if err != nil {
				return err
			}
			opts = append(opts, link.WithFirstSessionID(last+1))
		}

		specs = append(specs, gateway.LinkSpec{
			Name:        lc.Name,
			Open:        opener(lc),
			Options:     opts,
			ReopenDelay: time.Duration(lc.ReopenDelay),
		})
	}

	var gwOpts []gateway.Option
	if statusInterval > 0 {
		gwOpts = append(gwOpts, gateway.WithStatusInterval(statusInterval))
	}

	gw, err := gateway.New(specs, sink, log, gwOpts...)
	if err != nil {
		return err
	}

	log.Info("astmd: starting", "links", len(specs))

	if err := gw.Run(ctx); err != nil {
		return err
	}

	log.Info("astmd: shutdown finished")

	return nil
}

// opener returns the transport opener of a configured link.
func opener(lc config.LinkConfig) gateway.Opener {
	if lc.Serial != "" {
		path, serialCfg := lc.Serial, lc.SerialConfig()
		return func(context.Context) (transport.Port, error) {
			port, err := transport.OpenSerial(path, serialCfg)
			if err != nil {
				return nil, err
			}

			return port, nil
		}
	}

	addr, timeout := lc.TCP, time.Duration(lc.DialTimeout)

	return func(ctx context.Context) (transport.Port, error) {
		port, err := transport.DialTCP(ctx, addr, timeout)
		if err != nil {
			return nil, err
		}

		return port, nil
	}
}

// openSinks creates the configured sinks. The SQLite store is also returned
// so the caller can read the last session IDs and close it.
func openSinks(out config.OutputConfig, log logger.Logger) (session.Sink, *store.SQLite, error) {
	var (
		sinks session.MultiSink
		db    *store.SQLite
	)

	if out.JSONDir != "" {
		js, err := store.NewJSONSink(out.JSONDir, log)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, js)
	}

	if out.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(out.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create database dir: %w", err)
		}

		var err error
		db, err = store.OpenSQLite(out.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, db)
	}

	if out.PDFDir != "" {
		ps, err := report.NewPDFSink(out.PDFDir, log)
		if err != nil {
			if db != nil {
				_ = db.Close()
			}

			return nil, nil, err
		}
		sinks = append(sinks, ps)
	}

	if len(sinks) == 0 {
		log.Warn("astmd: no output configured, sessions are only logged")
		return session.SinkFunc(logSession(log)), nil, nil
	}

	return sinks, db, nil
}

func logSession(log logger.Logger) func(context.Context, *session.Session) error {
	return func(_ context.Context, s *session.Session) error {
		sum := session.Summarize(s)
		log.Info("astmd: session received",
			"link", s.Link,
			"session", s.ID,
			"complete", s.Complete,
			"results", sum.TotalResults,
		)

		return nil
	}
}

// setupLogging installs the daemon logger: stdout, teed into a rotating
// file when one is configured.
func setupLogging(lc config.LogConfig) (logger.Logger, func(), error) {
	var w io.Writer = os.Stdout
	closeFn := func() {}

	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}

		rotator := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxAge:     lc.MaxAgeDays,
			MaxBackups: lc.MaxBackups,
			Compress:   lc.Compress,
		}
		w = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	l := logger.NewSlogWithWriter(w, logger.ParseLevel(lc.Level), false)
	logger.SetLogger(l)

	return l, closeFn, nil
}

func printPorts(w io.Writer) error {
	ports, err := transport.SerialPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		_, err := fmt.Fprintln(w, "no serial ports found")
		return err
	}

	for _, p := range ports {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}

	return nil
}

func printSessions(w io.Writer, cfg *config.Config, limit int) error {
	if cfg.Output.SQLitePath == "" {
		return errors.New("astmd: no sqlitePath configured")
	}

	db, err := store.OpenSQLite(cfg.Output.SQLitePath, logger.NewSlogWithWriter(io.Discard, logger.ErrorLevel, false))
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := db.Sessions(context.Background(), "", limit)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		status := "complete"
		switch {
		case s.AbortReason != "":
			status = "aborted: " + s.AbortReason
		case !s.Complete:
			status = "incomplete"
		}

		_, err := fmt.Fprintf(w, "%-12s %6d  %s  %-12s %3d records  %s\n",
			s.Link, s.ID, s.StartedAt.Format(time.RFC3339), s.Instrument, s.Records, status)
		if err != nil {
			return err
		}
	}

	return nil
}
