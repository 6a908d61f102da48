// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fail provides the backend's single mechanism for reporting
// fatal invariant violations. The backend has no recoverable-error path
// for internal invariants: a failed assertion aborts the whole Generate
// call, it never returns a partial image.
package fail

import "fmt"

// Assertf aborts the current goroutine with a formatted message if cond
// is false. It is used at every point where the spec calls for a fatal
// invariant violation rather than a signalling return value.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Unreachable aborts unconditionally, for switch arms over closed enums
// that must never see a stray tag.
func Unreachable(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
