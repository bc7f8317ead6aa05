package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebcam/sebcamd"
	"github.com/sebcam/sebcamd/internal/logger"
)

// command binds the handlers to an output writer. Status lines and the
// start/stop literals go to out; structured logs go wherever the config
// points the logger.
type command struct {
	out io.Writer
}

// loadConfig reads the TOML config. Every verb needs it because the config
// names the capture command and the PID file.
func (c *command) loadConfig(path string) (*sebcamd.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file required; use --config=config.toml")
	}
	cfg, err := sebcamd.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// newSupervisor builds the supervisor and its logger from the config. The
// returned closer flushes the log file and may be nil for stderr loggers.
func (c *command) newSupervisor(cfg *sebcamd.Config) (*sebcamd.Supervisor, io.Closer, error) {
	log, closer, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	sup, err := sebcamd.New(cfg, log)
	if err != nil {
		closeIfSet(closer)
		return nil, nil, err
	}
	return sup, closer, nil
}

func closeIfSet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// Start launches the capture process detached and returns. A capture process
// that is already running is reported and left alone; that is not a failure.
func (c *command) Start(f StartFlags) error {
	cfg, err := c.loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	sup, closer, err := c.newSupervisor(cfg)
	if err != nil {
		return err
	}
	defer closeIfSet(closer)
	defer func() { _ = sup.Close() }()

	_, _ = fmt.Fprintf(c.out, "starting %s\n", cfg.Capture.Name)
	ctx := context.Background()
	if err := sup.Start(ctx); err != nil {
		if errors.Is(err, sebcamd.ErrAlreadyRunning) {
			st := sup.Status(ctx)
			_, _ = fmt.Fprintf(c.out, "%s already running (pid %d)\n", cfg.Capture.Name, st.PID)
			return nil
		}
		return err
	}
	st := sup.Status(ctx)
	_, _ = fmt.Fprintf(c.out, "started %s (pid %d)\n", cfg.Capture.Name, st.PID)
	return nil
}

// Stop signals the capture process found via the PID file and waits for it
// to exit. A missing PID file or a stale PID is an error: the caller wanted
// something stopped and nothing was.
func (c *command) Stop(f StopFlags) error {
	cfg, err := c.loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.Wait > 0 {
		cfg.Capture.GracePeriod = f.Wait
	}
	sup, closer, err := c.newSupervisor(cfg)
	if err != nil {
		return err
	}
	defer closeIfSet(closer)
	defer func() { _ = sup.Close() }()

	_, _ = fmt.Fprintf(c.out, "stopping %s\n", cfg.Capture.Name)
	return sup.Stop(context.Background())
}

// Status prints one line (or JSON) describing the capture process. It exits
// zero whether or not the process runs; status is a query, not a probe.
func (c *command) Status(f StatusFlags) error {
	cfg, err := c.loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	sup, closer, err := c.newSupervisor(cfg)
	if err != nil {
		return err
	}
	defer closeIfSet(closer)
	defer func() { _ = sup.Close() }()

	st := sup.Status(context.Background())
	if f.JSON {
		b, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(c.out, string(b))
		return nil
	}
	if !st.Running {
		_, _ = fmt.Fprintf(c.out, "%s: not running\n", cfg.Capture.Name)
		return nil
	}
	line := fmt.Sprintf("%s: running pid=%d uptime=%s restarts=%d",
		cfg.Capture.Name, st.PID, time.Since(st.StartedAt).Round(time.Second), st.Restarts)
	if st.Resources != nil {
		line += fmt.Sprintf(" cpu=%.1f%% rss=%s", st.Resources.CPUPercent, formatBytes(st.Resources.RSSBytes))
	}
	_, _ = fmt.Fprintln(c.out, line)
	return nil
}

// Run supervises the capture process in the foreground until SIGTERM or
// SIGINT, then stops the child gracefully before returning.
func (c *command) Run(f RunFlags) error {
	cfg, err := c.loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	log, closer, err := logger.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer closeIfSet(closer)

	log.Info("sebcamd starting", "version", version, "capture", cfg.Capture.Name)
	sup, err := sebcamd.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return sup.Run(ctx)
}

// Report renders the post-run HTML report from the journal.
func (c *command) Report(f ReportFlags) error {
	cfg, err := c.loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	dsn := f.DSN
	if dsn == "" {
		dsn = cfg.Journal.DSN
	}
	if dsn == "" {
		return fmt.Errorf("no journal configured; set [journal] dsn or pass --dsn")
	}
	err = sebcamd.GenerateReport(context.Background(), sebcamd.ReportOptions{
		DSN:   dsn,
		Name:  cfg.Capture.Name,
		Since: f.Since,
		Out:   f.Out,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "report written to %s\n", f.Out)
	return nil
}

// ConfigInit writes the commented starter config.
func (c *command) ConfigInit(f ConfigInitFlags) error {
	path := f.Path
	if path == "" {
		path = "config.toml"
	}
	if err := sebcamd.WriteDefaultConfig(path, f.Force); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "wrote %s\n", path)
	return nil
}

// Version prints the banner, the successor of the capture payload's own
// version string.
func (c *command) Version() error {
	_, _ = fmt.Fprintf(c.out, "sebcamd V%s\n", version)
	return nil
}
