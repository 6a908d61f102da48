// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stack provides a minimal growable stack of int64 values, used
// wherever the backend needs to track a nested quantity (stack depth
// while walking a control-flow tree, hole sizes during row fitting) that
// must be pushed and popped as nested scopes open and close.
package stack

// Stack is a LIFO stack of int64 values. The zero value is an empty
// stack ready to use.
type Stack struct {
	vals []int64
}

// Push appends v to the top of the stack.
func (s *Stack) Push(v int64) {
	s.vals = append(s.vals, v)
}

// Pop removes and returns the top of the stack. Pop on an empty stack
// panics, mirroring the backend's fatal-on-invariant-violation policy.
func (s *Stack) Pop() int64 {
	n := len(s.vals)
	v := s.vals[n-1]
	s.vals = s.vals[:n-1]
	return v
}

// Top returns the value at the top of the stack without removing it.
func (s *Stack) Top() int64 {
	return s.vals[len(s.vals)-1]
}

// SetTop replaces the value at the top of the stack.
func (s *Stack) SetTop(v int64) {
	s.vals[len(s.vals)-1] = v
}

// Get returns the value at index i, counting from the bottom.
func (s *Stack) Get(i int) int64 {
	return s.vals[i]
}

// Set replaces the value at index i, counting from the bottom.
func (s *Stack) Set(i int, v int64) {
	s.vals[i] = v
}

// Len returns the number of values currently on the stack.
func (s *Stack) Len() int {
	return len(s.vals)
}

// Empty reports whether the stack holds no values.
func (s *Stack) Empty() bool {
	return len(s.vals) == 0
}
