// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"github.com/joeycumines/go-engineloop/engine"
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every command. Flags override values
// from the config file only when set.
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	script     string
	listen     string
	signals    bool
	stdin      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "engineloop",
		Short:        "Run per-subsystem event loops",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace|debug|info|notice|warning|err|crit|alert|emerg)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (json|text)")
	flags.StringVar(&opts.script, "script", "", "script to evaluate on the logic loop")
	flags.StringVar(&opts.listen, "listen", "", "UDP address to read datagrams from")
	flags.BoolVar(&opts.signals, "signals", true, "pause on terminal stop, resume on continue")
	flags.BoolVar(&opts.stdin, "stdin", false, "pass input lines to the script's onStdin function")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

func (x *rootOptions) resolve(cmd *cobra.Command) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if x.configFile != "" {
		var err error
		if cfg, err = engine.LoadConfig(x.configFile); err != nil {
			return engine.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = x.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = x.logFormat
	}
	if flags.Changed("script") {
		cfg.Script = x.script
	}
	if flags.Changed("listen") {
		cfg.Network.Listen = x.listen
	}
	if flags.Changed("signals") {
		cfg.Suspend.Signals = x.signals
	}
	if flags.Changed("stdin") {
		cfg.Stdin = x.stdin
	}

	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}
