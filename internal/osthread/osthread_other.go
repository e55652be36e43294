// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !linux

package osthread

func threadID() int64 { return 0 }

func setAffinity(int) error { return ErrUnsupported }
