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

package iouring

// io_uring opcodes
const (
	IORING_OP_NOP          = 0  // No operation
	IORING_OP_READV        = 1  // Vectored read (readv)
	IORING_OP_WRITEV       = 2  // Vectored write (writev)
	IORING_OP_POLL_ADD     = 6  // Add a poll request
	IORING_OP_POLL_REMOVE  = 7  // Remove a poll request
	IORING_OP_TIMEOUT      = 11 // Timeout operation
	IORING_OP_ACCEPT       = 13 // Accept incoming connection (Linux 5.5+)
	IORING_OP_ASYNC_CANCEL = 14 // Cancel async operation (Linux 5.5+)
	IORING_OP_CONNECT      = 16 // Connect to socket (Linux 5.5+)
	IORING_OP_CLOSE        = 19 // Close file descriptor (Linux 5.6+)
	IORING_OP_READ         = 22 // Read from file descriptor (Linux 5.6+)
	IORING_OP_WRITE        = 23 // Write to file descriptor (Linux 5.6+)
	IORING_OP_SEND         = 26 // Send data on socket (Linux 5.6+)
	IORING_OP_RECV         = 27 // Receive data from socket (Linux 5.6+)
)

// io_uring setup flags
const (
	IORING_SETUP_IOPOLL = 1 << 0
	IORING_SETUP_SQPOLL = 1 << 1
	IORING_SETUP_SQ_AFF = 1 << 2
	IORING_SETUP_CQSIZE = 1 << 3
	IORING_SETUP_CLAMP  = 1 << 4
)

// io_uring feature flags - returned in params.Features after setup
const (
	IORING_FEAT_SINGLE_MMAP = 1 << 0
	IORING_FEAT_NODROP      = 1 << 1
	IORING_FEAT_FAST_POLL   = 1 << 5
)

// io_uring enter flags
const (
	IORING_ENTER_GETEVENTS = 1 << 0
	IORING_ENTER_SQ_WAKEUP = 1 << 1
)

// Op specific flags
const (
	IORING_ACCEPT_MULTISHOT = 1 << 0 // sqe.IoPrio for IORING_OP_ACCEPT (Linux 5.19+)
	IORING_POLL_ADD_MULTI   = 1 << 0 // sqe.Len for IORING_OP_POLL_ADD (Linux 5.13+)
)

// CQE flags
const (
	IORING_CQE_F_BUFFER = 1 << 0
	IORING_CQE_F_MORE   = 1 << 1 // the request is still armed, more completions follow
)

// Poll event flags - for IORING_OP_POLL_ADD
const (
	POLLIN    = 0x0001
	POLLOUT   = 0x0004
	POLLERR   = 0x0008
	POLLHUP   = 0x0010
	POLLNVAL  = 0x0020
	POLLRDHUP = 0x2000
)

// mmap offsets
const (
	IORING_OFF_SQ_RING = 0
	IORING_OFF_SQES    = 0x10000000
)
