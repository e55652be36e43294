// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"bytes"
	"fmt"

	diff "github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/joeycumines/go-engineloop/engine"
	"github.com/spf13/cobra"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	var showDiff bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			if !showDiff {
				return cfg.WriteYAML(cmd.OutOrStdout())
			}
			return writeDiff(cmd, engine.DefaultConfig(), cfg)
		},
	}
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print a unified diff against the defaults")
	return cmd
}

func writeDiff(cmd *cobra.Command, from, to engine.Config) error {
	var a, b bytes.Buffer
	if err := from.WriteYAML(&a); err != nil {
		return err
	}
	if err := to.WriteYAML(&b); err != nil {
		return err
	}
	edits := myers.ComputeEdits(``, a.String(), b.String())
	if len(edits) == 0 {
		return nil
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), diff.ToUnified("defaults.yaml", "config.yaml", a.String(), edits))
	return err
}
