// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package osthread

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func threadID() int64 {
	return int64(unix.Gettid())
}

func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 targets the calling thread
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("osthread: sched_setaffinity cpu %d: %w", cpu, err)
	}
	return nil
}
