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

// Package iouring provides a low-level interface to Linux io_uring.
// io_uring enables efficient submission and completion of I/O operations
// through shared memory ring buffers, avoiding a syscall per operation.
//
// The package only maps the rings and moves entries in and out of them.
// Tagging, batching and back-pressure live in the reactor package.
//
// Requires Linux kernel 5.4+ with IORING_FEAT_SINGLE_MMAP support.
// Multishot accept needs 5.19+, multishot poll 5.13+.
//
// Example usage:
//
//	ring, err := iouring.NewIOUring(32)
//	if err != nil {
//	    // handle error
//	}
//	defer ring.Close()
//
//	sqe := ring.PeekSQE(true)
//	sqe.Opcode = iouring.IORING_OP_NOP
//	ring.AdvanceSQ()
//	ring.Submit()
//
//	cqe, err := ring.WaitCQE()
//	if err != nil {
//	    // handle error
//	}
//	// process result
//	ring.AdvanceCQ()
package iouring

import (
	"runtime"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// IOUring represents an io_uring instance
// Contains the file descriptor and memory-mapped regions
type IOUring struct {
	fd      int
	params  IOUringParams
	sq      submissionQueue
	cq      completionQueue
	sqeMem  []byte // Memory-mapped SQE array
	ringMem []byte // Memory-mapped SQ/CQ ring (single mmap)
}

// submissionQueue: the application is the producer (tail), the kernel the consumer (head).
type submissionQueue struct {
	head        *uint32
	tail        *uint32
	ringMask    uint32
	ringEntries uint32
	flags       *uint32
	dropped     *uint32
	array       []uint32
	sqes        []IOUringSQE
}

// completionQueue: the kernel is the producer (tail), the application the consumer (head).
type completionQueue struct {
	head        *uint32
	tail        *uint32
	ringMask    uint32
	ringEntries uint32
	overflow    *uint32
	cqes        []IOUringCQE
}

// NewIOUring creates a new io_uring instance with at least entries SQ slots.
// The kernel rounds entries up to a power of 2.
func NewIOUring(entries uint32) (*IOUring, error) {
	params := IOUringParams{}
	fd, err := Setup(entries, &params)
	if err != nil {
		return nil, errors.Wrap(err, "io_uring_setup")
	}

	if params.Features&IORING_FEAT_SINGLE_MMAP == 0 {
		unix.Close(fd)
		return nil, errors.New("kernel does not support IORING_FEAT_SINGLE_MMAP (requires Linux 5.4+)")
	}

	ring := &IOUring{
		fd:     fd,
		params: params,
	}

	pageSize := uint32(unix.Getpagesize())

	sqRingSize := params.SqOff.Array + params.SqEntries*uint32(unsafe.Sizeof(uint32(0)))
	cqRingSize := params.CqOff.Cqes + params.CqEntries*uint32(unsafe.Sizeof(IOUringCQE{}))
	ringSize := sqRingSize
	if cqRingSize > ringSize {
		ringSize = cqRingSize
	}
	ringSize = (ringSize + pageSize - 1) &^ (pageSize - 1)

	ringMem, err := unix.Mmap(fd, IORING_OFF_SQ_RING, int(ringSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		ring.Close()
		return nil, errors.Wrap(err, "mmap ring")
	}
	ring.ringMem = ringMem

	sqeSize := params.SqEntries * uint32(unsafe.Sizeof(IOUringSQE{}))
	sqeMem, err := unix.Mmap(fd, IORING_OFF_SQES, int(sqeSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		ring.Close()
		return nil, errors.Wrap(err, "mmap sqes")
	}
	ring.sqeMem = sqeMem

	sq := &ring.sq
	sq.head = ring.u32(params.SqOff.Head)
	sq.tail = ring.u32(params.SqOff.Tail)
	sq.ringMask = *ring.u32(params.SqOff.RingMask)
	sq.ringEntries = *ring.u32(params.SqOff.RingEntries)
	sq.flags = ring.u32(params.SqOff.Flags)
	sq.dropped = ring.u32(params.SqOff.Dropped)
	sq.array = unsafe.Slice(ring.u32(params.SqOff.Array), params.SqEntries)
	sq.sqes = unsafe.Slice((*IOUringSQE)(unsafe.Pointer(&sqeMem[0])), params.SqEntries)

	cq := &ring.cq
	cq.head = ring.u32(params.CqOff.Head)
	cq.tail = ring.u32(params.CqOff.Tail)
	cq.ringMask = *ring.u32(params.CqOff.RingMask)
	cq.ringEntries = *ring.u32(params.CqOff.RingEntries)
	cq.overflow = ring.u32(params.CqOff.Overflow)
	cq.cqes = unsafe.Slice((*IOUringCQE)(unsafe.Pointer(&ringMem[params.CqOff.Cqes])), params.CqEntries)

	runtime.SetFinalizer(ring, func(r *IOUring) {
		r.Close()
	})
	return ring, nil
}

func (ring *IOUring) u32(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&ring.ringMem[off]))
}

// Fd returns the io_uring file descriptor.
func (ring *IOUring) Fd() int { return ring.fd }

// Entries returns the SQ capacity granted by the kernel.
func (ring *IOUring) Entries() uint32 { return ring.sq.ringEntries }

// Features returns the IORING_FEAT_* bits reported by the kernel.
func (ring *IOUring) Features() uint32 { return ring.params.Features }

// PeekSQE gets a submission queue entry for the caller to fill.
// It does NOT make the entry visible to the kernel.
// Returns nil if the submission queue is full.
// After filling the SQE, the caller must call AdvanceSQ() to make it visible.
// Without reset the SQE may contain stale data from a previous operation.
func (ring *IOUring) PeekSQE(reset bool) *IOUringSQE {
	q := &ring.sq

	tail := atomic.LoadUint32(q.tail)
	head := atomic.LoadUint32(q.head)
	if tail-head >= q.ringEntries {
		return nil
	}

	idx := tail & q.ringMask
	sqe := &q.sqes[idx]
	if reset {
		*sqe = IOUringSQE{}
	}
	// made visible by the barrier in AdvanceSQ
	q.array[idx] = idx
	return sqe
}

// AdvanceSQ makes one submission queue entry visible to the kernel.
// This acts as a memory barrier.
func (ring *IOUring) AdvanceSQ() {
	atomic.AddUint32(ring.sq.tail, 1)
}

// PendingSQEs returns the number of entries queued but not yet consumed by the kernel.
func (ring *IOUring) PendingSQEs() uint32 {
	return atomic.LoadUint32(ring.sq.tail) - atomic.LoadUint32(ring.sq.head)
}

// Submit submits queued entries with io_uring_enter, retrying on EINTR.
// Returns number of submissions accepted by kernel
func (ring *IOUring) Submit() (int, syscall.Errno) {
	toSubmit := ring.PendingSQEs()
	if toSubmit == 0 {
		return 0, 0
	}
	for {
		submitted, errno := Enter(ring.fd, toSubmit, 0, 0, nil)
		if errno == syscall.EINTR {
			continue
		}
		return submitted, errno
	}
}

// PeekCQE checks for a completion queue entry without blocking.
// Returns nil if no completion is available.
// It does NOT advance the head - call AdvanceCQ after processing
func (ring *IOUring) PeekCQE() *IOUringCQE {
	q := &ring.cq
	head := atomic.LoadUint32(q.head)
	tail := atomic.LoadUint32(q.tail)
	if head == tail {
		return nil
	}
	return &q.cqes[head&q.ringMask]
}

// WaitCQE blocks until at least one completion is available.
// It does NOT advance the head - call AdvanceCQ after processing
func (ring *IOUring) WaitCQE() (*IOUringCQE, error) {
	q := &ring.cq
	head := atomic.LoadUint32(q.head)
	tail := atomic.LoadUint32(q.tail)

	for head == tail {
		_, errno := Enter(ring.fd, 0, 1, IORING_ENTER_GETEVENTS, nil)
		if errno == syscall.EINTR || errno == syscall.EAGAIN {
			runtime.Gosched()
			tail = atomic.LoadUint32(q.tail)
			continue
		}
		if errno != 0 {
			return nil, errno
		}
		tail = atomic.LoadUint32(q.tail)
	}
	return &q.cqes[head&q.ringMask], nil
}

// AdvanceCQ advances the completion queue head by one, freeing the oldest CQE slot.
func (ring *IOUring) AdvanceCQ() {
	atomic.AddUint32(ring.cq.head, 1)
}

// Overflow returns the number of completions the kernel dropped because the CQ was full.
func (ring *IOUring) Overflow() uint32 {
	return atomic.LoadUint32(ring.cq.overflow)
}

// Close unmaps the rings and closes the io_uring file descriptor.
// Returns the first error encountered during cleanup, if any.
func (ring *IOUring) Close() error {
	if ring == nil {
		return nil
	}
	runtime.SetFinalizer(ring, nil)

	var firstErr error
	if ring.ringMem != nil {
		if err := unix.Munmap(ring.ringMem); err != nil && firstErr == nil {
			firstErr = err
		}
		ring.ringMem = nil
	}
	if ring.sqeMem != nil {
		if err := unix.Munmap(ring.sqeMem); err != nil && firstErr == nil {
			firstErr = err
		}
		ring.sqeMem = nil
	}
	if ring.fd >= 0 {
		if err := unix.Close(ring.fd); err != nil && firstErr == nil {
			firstErr = err
		}
		ring.fd = -1
	}
	return firstErr
}
