package main

import "time"

// Flag structs decouple cobra parsing from the handlers so tests can drive
// the handlers directly.

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

type StartFlags struct {
	ConfigPath string
}

type StopFlags struct {
	ConfigPath string
	Wait       time.Duration // overrides the configured grace_period when > 0
}

type StatusFlags struct {
	ConfigPath string
	JSON       bool
}

type RunFlags struct {
	ConfigPath string
}

type ReportFlags struct {
	ConfigPath string
	DSN        string // overrides the configured journal DSN
	Out        string
	Since      time.Duration
}

type ConfigInitFlags struct {
	Path  string
	Force bool
}
