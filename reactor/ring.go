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

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/cloudwego/ureactor/internal/iouring"
)

// Queue is the kernel boundary of a Ring. *iouring.IOUring implements it;
// reactortest.Queue is an in-memory stand-in.
type Queue interface {
	// PeekSQE returns the next free submission entry or nil when full.
	PeekSQE(reset bool) *iouring.IOUringSQE
	// AdvanceSQ publishes the entry returned by PeekSQE.
	AdvanceSQ()
	// Submit hands published entries to the kernel.
	Submit() (int, syscall.Errno)
	// WaitCQE blocks until the completion at the head is available.
	WaitCQE() (*iouring.IOUringCQE, error)
	// AdvanceCQ releases the completion at the head.
	AdvanceCQ()
	Close() error
}

// Completion is a copy of one completion queue entry.
type Completion struct {
	Handle Handle
	// Res is operation specific when >= 0, -errno otherwise.
	Res   int32
	Flags uint32

	seq uint64
}

// More reports whether a multishot request is still armed.
func (c Completion) More() bool {
	return c.Flags&iouring.IORING_CQE_F_MORE != 0
}

// Err returns the errno carried by a negative result, or nil.
func (c Completion) Err() error {
	if c.Res < 0 {
		return syscall.Errno(-c.Res)
	}
	return nil
}

// RingStats is a snapshot of the ring bookkeeping.
type RingStats struct {
	Pending  int    // slots acquired but not yet taken by the kernel
	InFlight int    // tags attached and not yet consumed
	Allocs   uint64 // tags ever attached
	Frees    uint64 // tags ever consumed
}

// Ring mediates access to a submission/completion queue pair and owns the
// tags attached to in-flight operations. It is not safe for concurrent use.
type Ring struct {
	q    Queue
	tags *tagArena

	pending int

	seq         uint64
	outstanding uint64 // seq of the completion handed out and not yet acknowledged

	closed bool
}

// NewRingFrom wraps an already initialized queue.
func NewRingFrom(q Queue) *Ring {
	return &Ring{q: q, tags: newTagArena()}
}

// Slot is a submission entry reserved by AcquireSlot. Fill it with Encode
// and AttachTag before the next Submit.
type Slot struct {
	r      *Ring
	sqe    *iouring.IOUringSQE
	pinned any
	handle Handle
}

// AcquireSlot reserves one submission entry. It returns ErrBusy when the
// queue is full; the caller must back off until a Submit drains it.
// An acquired slot is always submitted; left untouched it is a Nop.
func (r *Ring) AcquireSlot() (*Slot, error) {
	if r.closed {
		return nil, ErrClosed
	}
	sqe := r.q.PeekSQE(true)
	if sqe == nil {
		busyCounter.Inc()
		return nil, ErrBusy
	}
	r.q.AdvanceSQ()
	r.pending++
	return &Slot{r: r, sqe: sqe}, nil
}

// Encode writes the kernel encoding of op into the slot.
func (s *Slot) Encode(op Op) error {
	if err := op.validate(); err != nil {
		return err
	}
	ud := s.sqe.UserData
	*s.sqe = iouring.IOUringSQE{}
	op.prep(s.sqe)
	s.sqe.UserData = ud
	s.pinned = op.pin()
	if s.handle != NullHandle {
		s.r.tags.repin(s.handle, s.pinned)
	}
	return nil
}

// AttachTag binds tag to the slot and returns the handle the completion
// will carry. A zero tag leaves the slot untagged.
// Attaching twice replaces the previous tag.
func (s *Slot) AttachTag(tag Tag) Handle {
	if s.handle != NullHandle {
		_, _ = s.r.tags.take(s.handle, false)
		s.handle = NullHandle
	}
	if !tag.IsZero() {
		s.handle = s.r.tags.alloc(tag, s.pinned)
	}
	s.sqe.UserData = uint64(s.handle)
	return s.handle
}

// attachRaw binds a reserved handle that is not backed by the arena.
func (s *Slot) attachRaw(h Handle) {
	s.sqe.UserData = uint64(h)
}

// PrimeMultishotAccept installs a standing accept on listenerFd tagged
// {listenerFd, StateAccept}. addr may be nil when the peer is not needed.
func (r *Ring) PrimeMultishotAccept(slot *Slot, listenerFd int, addr *AcceptAddr, flags uint32) (Handle, error) {
	if err := slot.Encode(MultishotAccept{Listener: listenerFd, Addr: addr, Flags: flags}); err != nil {
		return NullHandle, err
	}
	return slot.AttachTag(Tag{Fd: int32(listenerFd), State: StateAccept}), nil
}

// Prepare validates op, reserves a slot for it and attaches tag.
func (r *Ring) Prepare(op Op, tag Tag) (Handle, error) {
	if err := op.validate(); err != nil {
		return NullHandle, err
	}
	slot, err := r.AcquireSlot()
	if err != nil {
		return NullHandle, err
	}
	if err = slot.Encode(op); err != nil {
		return NullHandle, err
	}
	return slot.AttachTag(tag), nil
}

// Submit flushes every acquired slot in one kernel entry and returns the
// number the kernel accepted. Nothing pending is a no-op. A short submit is
// reported, not fatal: the remainder stays pending for the next call.
func (r *Ring) Submit() (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.pending == 0 {
		return 0, nil
	}
	expected := r.pending
	n, errno := r.q.Submit()
	if errno != 0 {
		return 0, errors.Wrap(errno, "io_uring_enter submit")
	}
	r.pending -= n
	submissionsCounter.Inc(float64(n))
	if n != expected {
		shortSubmitCounter.Inc()
		log.L.WithFields(log.Fields{
			"expected":  expected,
			"submitted": n,
		}).Warn("short submit")
	}
	return n, nil
}

// WaitForCompletion blocks until a completion is available and returns a
// copy of it. Every returned completion must be passed to Acknowledge.
// Until then, further calls return the same completion.
func (r *Ring) WaitForCompletion() (Completion, error) {
	if r.closed {
		return Completion{}, ErrClosed
	}
	cqe, err := r.q.WaitCQE()
	if err != nil {
		return Completion{}, errors.Wrap(err, "io_uring_enter wait")
	}
	if r.outstanding == 0 {
		r.seq++
		r.outstanding = r.seq
	}
	return Completion{
		Handle: Handle(cqe.UserData),
		Res:    cqe.Res,
		Flags:  cqe.Flags,
		seq:    r.outstanding,
	}, nil
}

// Acknowledge releases the completion queue entry behind c. Acknowledging
// the same completion twice, or one this ring did not hand out, is ignored.
func (r *Ring) Acknowledge(c Completion) {
	if r.closed {
		return
	}
	if c.seq == 0 || c.seq != r.outstanding {
		log.L.WithFields(log.Fields{
			"handle": uint64(c.Handle),
			"seq":    c.seq,
		}).Debug("ignoring duplicate acknowledge")
		return
	}
	r.outstanding = 0
	r.q.AdvanceCQ()
}

// Decode consumes the tag carried by c. The tag is released unless the
// completion is flagged more-to-come, in which case it stays armed for the
// next completion of the same multishot request.
func (r *Ring) Decode(c Completion) (Tag, error) {
	if c.Handle == NullHandle {
		untaggedCounter.Inc()
		return Tag{}, ErrUntagged
	}
	tag, err := r.tags.take(c.Handle, c.More())
	if err != nil {
		staleTagCounter.Inc()
		return Tag{}, errors.Wrapf(err, "handle %#x", uint64(c.Handle))
	}
	completionsCounter.WithValues(tag.State.String()).Inc()
	return tag, nil
}

// Stats returns a snapshot of the ring bookkeeping.
func (r *Ring) Stats() RingStats {
	return RingStats{
		Pending:  r.pending,
		InFlight: r.tags.live,
		Allocs:   r.tags.allocs,
		Frees:    r.tags.frees,
	}
}

// Close releases the queue. Tags still in flight are dropped.
func (r *Ring) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.tags.reset()
	r.pending = 0
	return errors.Wrap(r.q.Close(), "close ring")
}
