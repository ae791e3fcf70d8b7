/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package reactor

import (
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrBusy is returned when the submission queue has no free slot.
	// It is back-pressure: retry after the next Submit, do not spin.
	ErrBusy = errors.New("reactor: submission queue full")
	// ErrInvalidOp is returned when an operation fails validation before encoding.
	ErrInvalidOp = errors.New("reactor: invalid operation")
	// ErrUntagged is returned when decoding a completion that carries the null handle.
	ErrUntagged = errors.New("reactor: untagged completion")
	// ErrStaleTag is returned when a handle was already consumed or never produced.
	ErrStaleTag = errors.New("reactor: stale tag handle")
	// ErrClosed is returned by every Ring method after Close.
	ErrClosed = errors.New("reactor: ring closed")
)

// IsTransient reports whether err is an interrupt-like ring failure that
// should be retried on the next iteration instead of stopping the loop.
func IsTransient(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case unix.EINTR, unix.EAGAIN, unix.EBUSY:
		return true
	}
	return false
}
