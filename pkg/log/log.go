// Copyright 2026 clusterfuzz-tools authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides functionality similar to standard log package with some extensions:
//   - verbosity levels
//   - global verbosity setting that can be used by multiple packages
//   - ability to capture recent output in memory for the final report
package log

import (
	"bytes"
	"fmt"
	golog "log"
	"sync"
	"time"
)

var (
	mu          sync.Mutex
	verbosity   int
	cacheLimit  int
	cacheBuf    []string
	prependTime = true // for testing
)

// SetVerbosity sets the global verbosity level.
// Messages logged with a level above it are dropped.
func SetVerbosity(v int) {
	mu.Lock()
	defer mu.Unlock()
	verbosity = v
}

// EnableCaching keeps up to maxLines of level<=1 output in memory,
// to be retrieved later with CachedOutput.
func EnableCaching(maxLines int) {
	mu.Lock()
	defer mu.Unlock()
	if maxLines < 1 {
		panic("invalid maxLines")
	}
	cacheLimit = maxLines
}

// CachedOutput returns recently logged output.
func CachedOutput() string {
	mu.Lock()
	defer mu.Unlock()
	buf := new(bytes.Buffer)
	for _, ent := range cacheBuf {
		buf.WriteString(ent)
		buf.WriteByte('\n')
	}
	return buf.String()
}

func Logf(v int, msg string, args ...interface{}) {
	mu.Lock()
	doLog := v <= verbosity
	if cacheLimit != 0 && v <= 1 {
		timeStr := ""
		if prependTime {
			timeStr = time.Now().Format("2006/01/02 15:04:05 ")
		}
		cacheBuf = append(cacheBuf, fmt.Sprintf(timeStr+msg, args...))
		if len(cacheBuf) > cacheLimit {
			cacheBuf = cacheBuf[len(cacheBuf)-cacheLimit:]
		}
	}
	mu.Unlock()

	if doLog {
		golog.Printf(msg, args...)
	}
}

func Errorf(msg string, args ...interface{}) {
	Logf(0, "error: "+msg, args...)
}

func Fatal(err error) {
	golog.Fatal(err)
}

func Fatalf(msg string, args ...interface{}) {
	golog.Fatalf(msg, args...)
}

// VerboseWriter is an io.Writer that logs at the given verbosity level.
// It is used to stream output of external tools (gclient, ninja) to the log.
type VerboseWriter int

func (w VerboseWriter) Write(data []byte) (int, error) {
	Logf(int(w), "%s", data)
	return len(data), nil
}
