// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"os"

	"github.com/joeycumines/logiface"
	"github.com/pingcap/errors"
)

// exitFunc is swapped in tests.
var exitFunc = os.Exit

func defaultFatalHandler(logger *logiface.Logger[logiface.Event]) func(error) {
	return func(err error) {
		logger.Crit().
			Err(err).
			Str("stack", errors.ErrorStack(err)).
			Log("fatal error in event loop")
		exitFunc(2)
	}
}

// fatalError annotates a value recovered from the loop's own machinery with
// a stack trace.
func fatalError(v any) error {
	if err, ok := v.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Errorf("%v", v)
}
