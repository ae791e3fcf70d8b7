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

// Package reactortest provides in-memory stand-ins for the kernel ring and
// for a reactor.Submitter, so rings, loops and handlers can be tested
// deterministically without io_uring.
package reactortest

import (
	"syscall"

	"github.com/pkg/errors"

	"github.com/cloudwego/ureactor/internal/iouring"
)

// ErrNoCompletion is returned by WaitCQE when nothing has been completed.
var ErrNoCompletion = errors.New("reactortest: no completion queued")

// Queue implements reactor.Queue in memory. Nothing completes on its own:
// tests inspect Submitted and inject results with Complete.
type Queue struct {
	entries uint32
	sqes    []iouring.IOUringSQE
	head    uint32
	tail    uint32

	cq []iouring.IOUringCQE

	// Submitted holds a copy of every entry taken by Submit, in order.
	Submitted []iouring.IOUringSQE
	// SubmitLimit caps the number of entries one Submit takes. 0 means no cap.
	SubmitLimit int
	// SubmitErr, when set, is returned by Submit without taking anything.
	SubmitErr syscall.Errno

	// Enters counts Submit calls that reached the queue.
	Enters int
	// Acked counts AdvanceCQ calls.
	Acked  int
	closed bool
}

// New returns a queue with room for entries submissions.
func New(entries uint32) *Queue {
	return &Queue{
		entries: entries,
		sqes:    make([]iouring.IOUringSQE, entries),
	}
}

func (q *Queue) PeekSQE(reset bool) *iouring.IOUringSQE {
	if q.tail-q.head >= q.entries {
		return nil
	}
	sqe := &q.sqes[q.tail%q.entries]
	if reset {
		*sqe = iouring.IOUringSQE{}
	}
	return sqe
}

func (q *Queue) AdvanceSQ() { q.tail++ }

func (q *Queue) Submit() (int, syscall.Errno) {
	q.Enters++
	if q.SubmitErr != 0 {
		return 0, q.SubmitErr
	}
	n := int(q.tail - q.head)
	if q.SubmitLimit > 0 && n > q.SubmitLimit {
		n = q.SubmitLimit
	}
	for i := 0; i < n; i++ {
		q.Submitted = append(q.Submitted, q.sqes[q.head%q.entries])
		q.head++
	}
	return n, 0
}

// Pending returns the number of entries queued but not yet submitted.
func (q *Queue) Pending() int { return int(q.tail - q.head) }

// Complete queues a completion for the next WaitCQE.
func (q *Queue) Complete(userData uint64, res int32, flags uint32) {
	q.cq = append(q.cq, iouring.IOUringCQE{UserData: userData, Res: res, Flags: flags})
}

// CompleteAll completes every submitted entry with res, in submission order,
// and clears Submitted.
func (q *Queue) CompleteAll(res int32) {
	for _, sqe := range q.Submitted {
		q.Complete(sqe.UserData, res, 0)
	}
	q.Submitted = q.Submitted[:0]
}

// Ready returns the number of completions not yet acknowledged.
func (q *Queue) Ready() int { return len(q.cq) }

func (q *Queue) WaitCQE() (*iouring.IOUringCQE, error) {
	if len(q.cq) == 0 {
		return nil, ErrNoCompletion
	}
	return &q.cq[0], nil
}

func (q *Queue) AdvanceCQ() {
	if len(q.cq) == 0 {
		return
	}
	q.cq = q.cq[1:]
	q.Acked++
}

func (q *Queue) Close() error {
	q.closed = true
	return nil
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool { return q.closed }
