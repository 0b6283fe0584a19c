package main

import "time"

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	Dev        bool
	DataDir    string
	Port       int
	Worker     string
	Executable string
	LogLevel   string
	LogFile    string
}

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	RunDuration time.Duration // 0 waits for a signal
	AdminListen string
	Descendants bool
}

type ReapFlags struct {
	PID         int
	Descendants bool
}
