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

// IOUringSQE is a submission queue entry.
// Size must be exactly 64 bytes for kernel ABI compatibility
type IOUringSQE struct {
	Opcode      uint8     // Operation code (IORING_OP_*)
	Flags       uint8     // IOSQE_* flags
	IoPrio      uint16    // Priority, or op specific flags (accept multishot)
	Fd          int32     // File descriptor to operate on
	Off         uint64    // Offset, or addr2 (accept addrlen pointer)
	Addr        uint64    // Pointer to buffer or sockaddr
	Len         uint32    // Length of buffer, or poll flags
	OpcodeFlags uint32    // msg_flags, accept_flags, poll32_events
	UserData    uint64    // User data (returned in CQE)
	BufIndex    uint16    // Index into registered buffer array
	Personality uint16    // Personality to use (registered credentials)
	SpliceFdIn  int32     // File descriptor for splice operations
	_           [2]uint64 // Padding to 64 bytes
}

// IOUringCQE is a completion queue entry.
// Size must be exactly 16 bytes for kernel ABI compatibility
type IOUringCQE struct {
	UserData uint64 // User data from submission (identifies request)
	Res      int32  // Result of operation (bytes transferred or -errno)
	Flags    uint32 // IORING_CQE_F_* flags
}

// More reports whether a multishot request stays armed after this completion.
func (c *IOUringCQE) More() bool {
	return c.Flags&IORING_CQE_F_MORE != 0
}

// IOUringParams is passed to io_uring_setup.
// Used both as input (flags, sq_thread_*) and output (features, offsets)
type IOUringParams struct {
	SqEntries    uint32          // Number of submission queue entries (power of 2)
	CqEntries    uint32          // Number of completion queue entries
	Flags        uint32          // Setup flags (IORING_SETUP_*)
	SqThreadCpu  uint32          // CPU for SQPOLL thread
	SqThreadIdle uint32          // Milliseconds before SQPOLL thread sleeps
	Features     uint32          // Kernel-supported features (output)
	WqFd         uint32          // Existing workqueue fd to attach to
	Resv         [3]uint32       // Reserved for future use
	SqOff        IoSqringOffsets // Submission queue ring offsets (output)
	CqOff        IoCqringOffsets // Completion queue ring offsets (output)
}

// IoSqringOffsets - byte offsets into mmap'd SQ ring for locating fields
type IoSqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Flags       uint32
	Dropped     uint32
	Array       uint32 // SQE index indirection array
	Resv1       uint32
	Resv2       uint64
}

// IoCqringOffsets - byte offsets into mmap'd CQ ring for locating fields
type IoCqringOffsets struct {
	Head        uint32
	Tail        uint32
	RingMask    uint32
	RingEntries uint32
	Overflow    uint32
	Cqes        uint32
	Flags       uint32
	Resv1       uint32
	Resv2       uint64
}
