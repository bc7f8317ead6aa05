package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version identifies the build; override with -ldflags "-X main.version=...".
var version = "1.00"

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the command tree. Status output goes to out so tests
// can capture it.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	sebcamCommand := command{out: out}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createStartCommand(sebcamCommand, globalFlags),
		createStopCommand(sebcamCommand, globalFlags),
		createStatusCommand(sebcamCommand, globalFlags),
		createRunCommand(sebcamCommand, globalFlags),
		createReportCommand(sebcamCommand, globalFlags),
		createConfigCommand(sebcamCommand, globalFlags),
		createVersionCommand(sebcamCommand),
	)
	return root
}

// createRootCommand creates the root command. Service managers invoke this
// binary with whatever verb their runlevel scripts carry; an unrecognized
// verb must not touch the capture process and must exit zero.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sebcamd",
		Short: "Supervisor for the sebcam capture process",
		Long: `Sebcamd starts, stops, and supervises the camera capture process on the
flight computer. One-shot verbs cooperate with init scripts; 'run' keeps the
capture alive in the foreground under a service manager.

Examples:
  sebcamd start --config=/etc/sebcam/config.toml
  sebcamd stop --config=/etc/sebcam/config.toml
  sebcamd run --config=/etc/sebcam/config.toml
  sebcamd status --json
  sebcamd report --out=flight.html`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "config.toml", "path to TOML config file")

	return root
}

// createStartCommand creates the start subcommand
func createStartCommand(sebcamCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the capture process in the background",
		Long: `Start the capture process as a detached background process and return.
A capture process that is already running is reported and left alone.

Examples:
  sebcamd start
  sebcamd start --config=/etc/sebcam/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sebcamCommand.Start(StartFlags{ConfigPath: globalFlags.ConfigPath})
		},
	}
}

// createStopCommand creates the stop subcommand
func createStopCommand(sebcamCommand command, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the capture process",
		Long: `Stop the capture process recorded in the PID file: SIGTERM, wait, then
SIGKILL if it will not die. Fails when the PID file is missing or names a
process that no longer exists.

Examples:
  sebcamd stop
  sebcamd stop --wait=10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var wait time.Duration
			if cmd.Flag("wait").Changed {
				wait, _ = cmd.Flags().GetDuration("wait")
			}
			return sebcamCommand.Stop(StopFlags{ConfigPath: globalFlags.ConfigPath, Wait: wait})
		},
	}
	cmd.Flags().Duration("wait", 0, "time to wait for graceful shutdown (defaults to grace_period)")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(sebcamCommand command, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show capture process status",
		Long: `Show whether the capture process runs, its PID, uptime, restart count,
and resource usage. Exits zero whether or not the process runs.

Examples:
  sebcamd status
  sebcamd status --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sebcamCommand.Status(StatusFlags{
				ConfigPath: globalFlags.ConfigPath,
				JSON:       cmd.Flag("json").Changed,
			})
		},
	}
	cmd.Flags().Bool("json", false, "print status as JSON")
	return cmd
}

// createRunCommand creates the run subcommand
func createRunCommand(sebcamCommand command, globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Supervise the capture process in the foreground",
		Long: `Run the supervisor in the foreground: start the capture process, restart
it when it dies unexpectedly, record journal events and resource samples,
and export metrics. SIGTERM or SIGINT stops the child gracefully first.

Examples:
  sebcamd run --config=/etc/sebcam/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sebcamCommand.Run(RunFlags{ConfigPath: globalFlags.ConfigPath})
		},
	}
}

// createReportCommand creates the report subcommand
func createReportCommand(sebcamCommand command, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render an HTML report from the journal",
		Long: `Render a standalone HTML report with CPU, memory, and descriptor charts
plus the lifecycle event timeline, read from the configured journal.
ClickHouse journals are write-only and cannot back a report.

Examples:
  sebcamd report --out=flight.html
  sebcamd report --since=2h --dsn=sqlite:///data/journal.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, _ := cmd.Flags().GetString("dsn")
			out, _ := cmd.Flags().GetString("out")
			since, _ := cmd.Flags().GetDuration("since")
			return sebcamCommand.Report(ReportFlags{
				ConfigPath: globalFlags.ConfigPath,
				DSN:        dsn,
				Out:        out,
				Since:      since,
			})
		},
	}
	cmd.Flags().String("dsn", "", "journal DSN (defaults to the configured one)")
	cmd.Flags().String("out", "sebcam-report.html", "output HTML path")
	cmd.Flags().Duration("since", 0, "report window, e.g. 2h (0 means everything)")
	return cmd
}

// createConfigCommand creates the config command with subcommands
func createConfigCommand(sebcamCommand command, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration file commands",
	}
	cmd.AddCommand(createConfigInitCommand(sebcamCommand, globalFlags))
	return cmd
}

// createConfigInitCommand creates the config init subcommand
func createConfigInitCommand(sebcamCommand command, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented starter config.toml",
		Long: `Write a commented starter configuration file. Refuses to overwrite an
existing file unless --force is given.

Examples:
  sebcamd config init
  sebcamd config init /etc/sebcam/config.toml --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			return sebcamCommand.ConfigInit(ConfigInitFlags{Path: path, Force: force})
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

// createVersionCommand creates the version subcommand
func createVersionCommand(sebcamCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version banner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sebcamCommand.Version()
		},
	}
}
