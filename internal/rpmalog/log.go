// This file is part of go-rpma, a Go port of librpma's connection-oriented
// RDMA API.
// Copyright (C) 2024 The go-rpma Authors
//
// go-rpma is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// go-rpma is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package rpmalog is the logging interface the rpma core consumes.
//
// librpma's C implementation carried two overlapping log subsystems
// (src/log.c and src/common/log.c), each with its own threshold. This
// package collapses that into a single threshold-pair contract: a
// "primary" sink and an "auxiliary" sink, each independently thresholded,
// so a caller can e.g. keep the primary output terse at WARN while letting
// the auxiliary stderr sink carry everything down to DEBUG.
package rpmalog

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/bfix/gospel/logger"
)

// Level mirrors the four thresholds librpma's log hook recognizes.
type Level int

const (
	DEBUG Level = iota
	NOTICE
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case NOTICE:
		return "NOTICE"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the interface the rpma core calls through. It never talks to
// a concrete sink directly.
type Logger interface {
	Log(level Level, file string, line int, fn, format string, args ...interface{})
}

// Sink identifies one of the two independently-thresholded outputs a
// Default logger fans out to.
type Sink int

const (
	Primary Sink = iota
	Auxiliary
)

// Default fans every call out to a gospel/logger primary sink and a
// standard-library auxiliary sink, each gated by its own threshold.
type Default struct {
	primaryThreshold   Level
	auxiliaryThreshold Level
	aux                *log.Logger
}

// NewDefault builds a Default logger. The auxiliary sink writes to stderr;
// its destination cannot be changed.
func NewDefault() *Default {
	return &Default{
		primaryThreshold:   WARN,
		auxiliaryThreshold: ERROR,
		aux:                log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetThreshold sets the minimum level that reaches the given sink.
func (d *Default) SetThreshold(sink Sink, level Level) {
	switch sink {
	case Primary:
		d.primaryThreshold = level
	case Auxiliary:
		d.auxiliaryThreshold = level
	}
}

func toGospelLevel(l Level) int {
	switch l {
	case DEBUG:
		return logger.DBG
	case NOTICE:
		return logger.INFO
	case WARN:
		return logger.WARN
	default:
		return logger.ERROR
	}
}

// Log implements Logger.
func (d *Default) Log(level Level, file string, line int, fn, format string, args ...interface{}) {
	msg := fmt.Sprintf("[%s:%d %s] %s", file, line, fn, fmt.Sprintf(format, args...))
	if level >= d.primaryThreshold {
		logger.Println(toGospelLevel(level), msg)
	}
	if level >= d.auxiliaryThreshold {
		d.aux.Printf("%s %s", level, msg)
	}
}

// Caller captures the file/line/function of the caller `skip` frames up,
// for use by rpma's trace helpers.
func Caller(skip int) (file string, line int, fn string) {
	pc, f, l, ok := runtime.Caller(skip + 1)
	if !ok {
		return "?", 0, "?"
	}
	file, line = f, l
	if rf := runtime.FuncForPC(pc); rf != nil {
		fn = rf.Name()
	} else {
		fn = "?"
	}
	return
}
