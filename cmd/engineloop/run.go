// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"context"
	"errors"

	"github.com/joeycumines/go-engineloop/engine"
	"github.com/spf13/cobra"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start every loop, and drive the main loop until quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			logger, err := engine.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, err := engine.New(cfg, engine.WithLogger(logger), engine.WithInput(cmd.InOrStdin()))
			if err != nil {
				return err
			}
			err = e.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return errors.Join(err, e.Shutdown(context.Background()))
		},
	}
}
