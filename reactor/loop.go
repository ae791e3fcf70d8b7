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
	"context"
	"encoding/binary"
	"runtime"
	"sync"

	"github.com/containerd/log"
	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ureactor/internal/iouring"
)

// Submitter queues operations on behalf of a Handler.
type Submitter interface {
	// Submit queues op tagged with tag. A full submission queue is absorbed
	// by the loop: the op is parked and submitted once slots free up.
	Submit(op Op, tag Tag) error
	// PrimeAccept installs a multishot accept on a listening socket.
	PrimeAccept(fd int, addr *AcceptAddr, flags uint32) error
}

// Handler reacts to one decoded completion, typically by submitting the
// next operation for the same socket.
type Handler interface {
	HandleCompletion(ctx context.Context, tag Tag, c Completion, s Submitter)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tag Tag, c Completion, s Submitter)

func (f HandlerFunc) HandleCompletion(ctx context.Context, tag Tag, c Completion, s Submitter) {
	f(ctx, tag, c, s)
}

type parkedOp struct {
	op  Op
	tag Tag
}

// Loop drives a Ring from a single goroutine: wait for a completion, decode
// its tag, hand it to the Handler, acknowledge it, then flush whatever the
// Handler queued.
type Loop struct {
	ring    *Ring
	handler Handler
	opts    loopOptions

	backlog *queue.Queue

	wakeMu    sync.Mutex
	wakeFd    int
	wakeArmed bool
	wakeBuf   [8]byte
}

// NewLoop creates a loop over ring dispatching to handler.
func NewLoop(ring *Ring, handler Handler, opts ...Option) *Loop {
	o := defaultLoopOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Loop{
		ring:    ring,
		handler: handler,
		opts:    o,
		backlog: queue.New(),
		wakeFd:  -1,
	}
}

// Ring returns the underlying ring.
func (l *Loop) Ring() *Ring { return l.ring }

// Backlog returns the number of operations waiting for a submission slot.
func (l *Loop) Backlog() int { return l.backlog.Length() }

// Submit implements Submitter.
func (l *Loop) Submit(op Op, tag Tag) error {
	if err := op.validate(); err != nil {
		return err
	}
	// keep FIFO order behind anything already parked
	if l.backlog.Length() > 0 {
		l.park(op, tag)
		return nil
	}
	_, err := l.ring.Prepare(op, tag)
	if errors.Is(err, ErrBusy) {
		l.park(op, tag)
		return nil
	}
	return err
}

// PrimeAccept implements Submitter.
func (l *Loop) PrimeAccept(fd int, addr *AcceptAddr, flags uint32) error {
	op := MultishotAccept{Listener: fd, Addr: addr, Flags: flags}
	if err := op.validate(); err != nil {
		return err
	}
	if l.backlog.Length() == 0 {
		slot, err := l.ring.AcquireSlot()
		if err == nil {
			_, err = l.ring.PrimeMultishotAccept(slot, fd, addr, flags)
			return err
		}
		if !errors.Is(err, ErrBusy) {
			return err
		}
	}
	l.park(op, Tag{Fd: int32(fd), State: StateAccept})
	return nil
}

func (l *Loop) park(op Op, tag Tag) {
	l.backlog.Add(parkedOp{op: op, tag: tag})
	backlogGauge.Set(float64(l.backlog.Length()))
}

// drainBacklog moves parked operations into free slots, oldest first.
func (l *Loop) drainBacklog() error {
	if l.wakeFd >= 0 && !l.wakeArmed {
		if err := l.armWake(); err != nil && !errors.Is(err, ErrBusy) {
			return err
		}
	}
	for l.backlog.Length() > 0 {
		p := l.backlog.Peek().(parkedOp)
		_, err := l.ring.Prepare(p.op, p.tag)
		if errors.Is(err, ErrBusy) {
			break
		}
		l.backlog.Remove()
		if err != nil {
			log.L.WithError(err).WithField("op", p.op.Kind()).Warn("dropping parked operation")
		}
	}
	backlogGauge.Set(float64(l.backlog.Length()))
	return nil
}

// Flush submits everything queued so far, including parked operations
// that fit once the kernel has consumed earlier entries.
func (l *Loop) Flush(ctx context.Context) error {
	for {
		if err := l.drainBacklog(); err != nil {
			return err
		}
		n, err := l.ring.Submit()
		if err != nil {
			if IsTransient(err) {
				log.G(ctx).WithError(err).Debug("transient submit failure")
				return nil
			}
			return err
		}
		if n == 0 || l.backlog.Length() == 0 {
			return nil
		}
	}
}

// Step waits for one completion, dispatches it and flushes.
func (l *Loop) Step(ctx context.Context) error {
	c, err := l.ring.WaitForCompletion()
	if err != nil {
		return err
	}
	l.dispatch(ctx, c)
	return l.Flush(ctx)
}

func (l *Loop) dispatch(ctx context.Context, c Completion) {
	defer l.ring.Acknowledge(c)

	if c.Handle == WakeHandle {
		l.onWake(ctx)
		return
	}
	tag, err := l.ring.Decode(c)
	if err != nil {
		entry := log.G(ctx).WithFields(log.Fields{
			"handle": uint64(c.Handle),
			"res":    c.Res,
		})
		if errors.Is(err, ErrUntagged) {
			entry.Debug("untagged completion")
		} else {
			entry.WithError(err).Warn("dropping completion")
		}
		return
	}
	l.handler.HandleCompletion(ctx, tag, c, l)
}

// Run locks the calling goroutine to its OS thread and steps until ctx is
// done or the ring fails. It returns nil when stopped by ctx.
func (l *Loop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if l.opts.wakeup {
		fd, err := newWakeFd()
		if err != nil {
			return errors.Wrap(err, "create wake eventfd")
		}
		l.wakeMu.Lock()
		l.wakeFd = fd
		l.wakeMu.Unlock()
		defer l.closeWake()

		if err = l.armWake(); err != nil && !errors.Is(err, ErrBusy) {
			return err
		}
		stop := context.AfterFunc(ctx, func() { _ = l.Wake() })
		defer stop()
	}

	if err := l.Flush(ctx); err != nil {
		return err
	}
	for ctx.Err() == nil {
		if err := l.Step(ctx); err != nil {
			if IsTransient(err) {
				continue
			}
			log.G(ctx).WithError(err).Error("reactor loop stopped")
			return err
		}
	}
	return nil
}

// Wake interrupts a Run blocked waiting for completions.
// It is safe to call from any goroutine.
func (l *Loop) Wake() error {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	if l.wakeFd < 0 {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(l.wakeFd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated, a wake is already pending
		return nil
	}
	return errors.Wrap(err, "write wake eventfd")
}

func (l *Loop) armWake() error {
	slot, err := l.ring.AcquireSlot()
	if err != nil {
		return err
	}
	if err = slot.Encode(Poll{Fd: l.wakeFd, Events: iouring.POLLIN}); err != nil {
		return err
	}
	slot.attachRaw(WakeHandle)
	l.wakeArmed = true
	return nil
}

func (l *Loop) onWake(ctx context.Context) {
	l.wakeArmed = false
	if l.wakeFd < 0 {
		return
	}
	// reset the counter so the next poll waits for a new write
	if _, err := unix.Read(l.wakeFd, l.wakeBuf[:]); err != nil && err != unix.EAGAIN {
		log.G(ctx).WithError(err).Warn("drain wake eventfd")
	}
	log.G(ctx).Debug("loop woken")
}

func (l *Loop) closeWake() {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	if l.wakeFd >= 0 {
		unix.Close(l.wakeFd)
		l.wakeFd = -1
	}
	l.wakeArmed = false
}
