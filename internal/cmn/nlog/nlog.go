// Package nlog is a thin structured-logging shim used across every sensocto
// package in place of the standard library's log package directly.
/*
 * Copyright (c) 2024-2025, sensocto authors. All rights reserved.
 */
package nlog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// Level controls which calls actually emit. It is process-wide, swapped
// atomically so concurrent workers never race on it.
type Level int32

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var (
	level  atomic.Int32
	stdlog = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func init() { level.Store(int32(LevelInfo)) }

// SetLevel changes the process-wide verbosity.
func SetLevel(l Level) { level.Store(int32(l)) }

func enabled(l Level) bool { return Level(level.Load()) >= l }

func Infoln(args ...any) {
	if enabled(LevelInfo) {
		stdlog.Println(append([]any{"I|"}, args...)...)
	}
}

func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		stdlog.Println("I| " + fmt.Sprintf(format, args...))
	}
}

func Warnln(args ...any) {
	if enabled(LevelWarn) {
		stdlog.Println(append([]any{"W|"}, args...)...)
	}
}

func Warnf(format string, args ...any) {
	if enabled(LevelWarn) {
		stdlog.Println("W| " + fmt.Sprintf(format, args...))
	}
}

func Errorln(args ...any) {
	if enabled(LevelError) {
		stdlog.Println(append([]any{"E|"}, args...)...)
	}
}

func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		stdlog.Println("E| " + fmt.Sprintf(format, args...))
	}
}

func Debugln(args ...any) {
	if enabled(LevelDebug) {
		stdlog.Println(append([]any{"D|"}, args...)...)
	}
}
