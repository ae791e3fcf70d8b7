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

//go:build linux

package iouring

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Setup creates an io_uring instance with the specified number of entries.
// Returns file descriptor on success, error on failure
func Setup(entries uint32, params *IOUringParams) (int, error) {
	fd, _, errno := unix.Syscall(
		unix.SYS_IO_URING_SETUP,
		uintptr(entries),
		uintptr(unsafe.Pointer(params)),
		0,
	)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

// Enter submits and waits for completions
// toSubmit: number of SQEs to submit from submission queue
// minComplete: minimum number of completions to wait for
// flags: IORING_ENTER_* flags
// Returns number of SQEs consumed by the kernel
func Enter(fd int, toSubmit uint32, minComplete uint32, flags uint32, sig unsafe.Pointer) (int, syscall.Errno) {
	r, _, errno := unix.Syscall6(
		unix.SYS_IO_URING_ENTER,
		uintptr(fd),
		uintptr(toSubmit),
		uintptr(minComplete),
		uintptr(flags),
		uintptr(sig),
		0,
	)
	return int(r), errno
}
