// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventloop

import (
	"fmt"
	"strings"
)

// ID names the subsystem an [EventLoop] serves.
type ID uint8

const (
	IDInvalid ID = iota
	IDLogic
	IDAssets
	IDFileOut
	IDMain
	IDAudio
	IDBGDynamics
	IDNetworkWrite
	IDStdin
	IDGraphics

	idCount
)

var idNames = [idCount]string{
	IDInvalid:      "invalid",
	IDLogic:        "logic",
	IDAssets:       "assets",
	IDFileOut:      "file_out",
	IDMain:         "main",
	IDAudio:        "audio",
	IDBGDynamics:   "bg_dynamics",
	IDNetworkWrite: "network_write",
	IDStdin:        "stdin",
	IDGraphics:     "graphics",
}

func (x ID) String() string {
	if x < idCount {
		return idNames[x]
	}
	return fmt.Sprintf("ID(%d)", uint8(x))
}

// Valid reports whether x names a real subsystem.
func (x ID) Valid() bool {
	return x > IDInvalid && x < idCount
}

// ParseID is the inverse of [ID.String], ignoring case.
func ParseID(s string) (ID, error) {
	for i := ID(1); i < idCount; i++ {
		if strings.EqualFold(s, idNames[i]) {
			return i, nil
		}
	}
	return IDInvalid, fmt.Errorf("eventloop: unknown loop id %q", s)
}

// Source determines who owns the thread an [EventLoop] runs on.
type Source uint8

const (
	// SourceNewThread loops spawn, and own, a dedicated OS thread.
	SourceNewThread Source = iota
	// SourceExternal loops wrap a thread that already exists, and are driven
	// by its owner, via [EventLoop.Run] or [EventLoop.RunOnce].
	SourceExternal
)

func (x Source) String() string {
	switch x {
	case SourceNewThread:
		return "new_thread"
	case SourceExternal:
		return "external"
	default:
		return fmt.Sprintf("Source(%d)", uint8(x))
	}
}
