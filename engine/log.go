// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package engine

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/rs/zerolog"
)

// ParseLevel parses a level name, as output by [logiface.Level.String]. A
// few common aliases are accepted.
func ParseLevel(s string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "none":
		return logiface.LevelDisabled, nil
	case "emerg", "emergency":
		return logiface.LevelEmergency, nil
	case "alert":
		return logiface.LevelAlert, nil
	case "crit", "critical":
		return logiface.LevelCritical, nil
	case "err", "error":
		return logiface.LevelError, nil
	case "warning", "warn":
		return logiface.LevelWarning, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "info", "informational":
		return logiface.LevelInformational, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "trace":
		return logiface.LevelTrace, nil
	default:
		return 0, fmt.Errorf("engine: unknown log level %q", s)
	}
}

// NewLogger builds the root logger, writing to w. The text format renders
// events for a terminal, via [zerolog.ConsoleWriter].
func NewLogger(cfg LogConfig, w io.Writer) (*logiface.Logger[logiface.Event], error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	options := []stumpy.Option{stumpy.WithTimeField(zerolog.TimestampFieldName)}
	switch cfg.Format {
	case FormatJSON, "":
	case FormatText:
		options = append(options, stumpy.WithLevelField(zerolog.LevelFieldName))
		w = newConsoleWriter(w)
	default:
		return nil, fmt.Errorf("engine: unknown log format %q", cfg.Format)
	}
	options = append(options, stumpy.WithWriter(w))

	return stumpy.L.New(
		stumpy.L.WithStumpy(options...),
		stumpy.L.WithLevel(level),
	).Logger(), nil
}

const messageField = "msg"

func newConsoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:           w,
		NoColor:       true,
		TimeFormat:    time.TimeOnly,
		PartsOrder:    []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, messageField},
		FieldsExclude: []string{messageField},
		FormatLevel: func(i any) string {
			return fmt.Sprintf("%-7s", strings.ToUpper(fmt.Sprint(i)))
		},
	}
}
