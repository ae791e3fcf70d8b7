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

package echo

import (
	"context"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ureactor/internal/iouring"
	"github.com/cloudwego/ureactor/reactor"
	"github.com/cloudwego/ureactor/reactor/reactortest"
)

const listenerFd = 5

func newTestServer(cfg Config) (*Server, *reactortest.Recorder) {
	return NewServer(listenerFd, cfg), &reactortest.Recorder{}
}

func complete(s *Server, rec *reactortest.Recorder, tag reactor.Tag, res int32, flags uint32) []reactortest.Submission {
	s.HandleCompletion(context.Background(), tag, reactor.Completion{Res: res, Flags: flags}, rec)
	return rec.Take()
}

// accept feeds an accept completion for fd and returns the read it submits.
func accept(t *testing.T, s *Server, rec *reactortest.Recorder, fd int32) reactor.Read {
	t.Helper()
	ops := complete(s, rec, reactor.Tag{Fd: listenerFd, State: reactor.StateAccept}, fd, iouring.IORING_CQE_F_MORE)
	require.Len(t, ops, 1)
	assert.Equal(t, reactor.Tag{Fd: fd, State: reactor.StateRead}, ops[0].Tag)
	read, ok := ops[0].Op.(reactor.Read)
	require.True(t, ok, "accept must be followed by a read, got %T", ops[0].Op)
	assert.Equal(t, int(fd), read.Fd)
	return read
}

func requireClose(t *testing.T, ops []reactortest.Submission, fd int32) {
	t.Helper()
	require.Len(t, ops, 1)
	assert.Equal(t, reactor.Close{Fd: int(fd)}, ops[0].Op)
	assert.Equal(t, reactor.Tag{Fd: fd, State: reactor.StateClose}, ops[0].Tag)
}

func TestStart(t *testing.T) {
	s, rec := newTestServer(DefaultConfig())
	require.NoError(t, s.Start(context.Background(), rec))
	assert.Equal(t, []int{listenerFd}, rec.Accepts)
	assert.Empty(t, rec.Ops)

	cfg := DefaultConfig()
	cfg.PollListener = true
	s, rec = newTestServer(cfg)
	require.NoError(t, s.Start(context.Background(), rec))
	require.Len(t, rec.Ops, 1)
	assert.Equal(t, reactor.PollMultishot{Fd: listenerFd, Events: iouring.POLLIN}, rec.Ops[0].Op)
	assert.True(t, rec.Ops[0].Tag.IsZero())

	rec = &reactortest.Recorder{Err: reactor.ErrClosed}
	assert.ErrorIs(t, s.Start(context.Background(), rec), reactor.ErrClosed)
}

func TestAccept(t *testing.T) {
	s, rec := newTestServer(DefaultConfig())

	read := accept(t, s, rec, 9)
	assert.Len(t, read.Buf, 1024)
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, rec.Accepts, "armed multishot accept is not re-armed")

	ops := complete(s, rec, reactor.Tag{Fd: listenerFd, State: reactor.StateAccept}, 10, 0)
	require.Len(t, ops, 1)
	assert.Equal(t, []int{listenerFd}, rec.Accepts, "terminated multishot accept is re-armed")
	assert.Equal(t, 2, s.Len())
}

func TestAcceptError(t *testing.T) {
	tests := []struct {
		name  string
		errno syscall.Errno
		rearm bool
	}{
		{"transient", syscall.EMFILE, true},
		{"listener closed", syscall.EBADF, false},
		{"cancelled", syscall.ECANCELED, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec := newTestServer(DefaultConfig())
			ops := complete(s, rec, reactor.Tag{Fd: listenerFd, State: reactor.StateAccept}, -int32(tt.errno), 0)
			assert.Empty(t, ops)
			assert.Zero(t, s.Len(), "no record for a failed accept")
			assert.Equal(t, tt.rearm, len(rec.Accepts) == 1)
		})
	}
}

func TestZeroReadCloses(t *testing.T) {
	s, rec := newTestServer(DefaultConfig())
	accept(t, s, rec, 9)

	ops := complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateRead}, 0, 0)
	requireClose(t, ops, 9)
	assert.Zero(t, s.Len(), "record removed when close is requested")

	ops = complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateClose}, 0, 0)
	assert.Empty(t, ops, "close completion submits nothing")
}

func TestNegativeResultCloses(t *testing.T) {
	tests := []struct {
		name  string
		state reactor.State
		errno syscall.Errno
	}{
		{"read reset", reactor.StateRead, syscall.ECONNRESET},
		{"write broken pipe", reactor.StateWrite, syscall.EPIPE},
		{"read cancelled", reactor.StateRead, syscall.ECANCELED},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec := newTestServer(DefaultConfig())
			read := accept(t, s, rec, 9)
			if tt.state == reactor.StateWrite {
				copy(read.Buf, "abc")
				ops := complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateRead}, 3, 0)
				require.Len(t, ops, 1)
			}
			ops := complete(s, rec, reactor.Tag{Fd: 9, State: tt.state}, -int32(tt.errno), 0)
			requireClose(t, ops, 9)
			assert.Zero(t, s.Len())
		})
	}
}

func TestEchoCycle(t *testing.T) {
	s, rec := newTestServer(DefaultConfig())
	read := accept(t, s, rec, 9)

	copy(read.Buf, "ping")
	ops := complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateRead}, 4, 0)
	require.Len(t, ops, 1)
	assert.Equal(t, reactor.Tag{Fd: 9, State: reactor.StateWrite}, ops[0].Tag)
	send := ops[0].Op.(reactor.Send)
	assert.Equal(t, "ping", string(send.Buf))
	assert.Equal(t, uint32(unix.MSG_NOSIGNAL), send.Flags)

	ops = complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateWrite}, 4, 0)
	require.Len(t, ops, 1)
	assert.Equal(t, reactor.Tag{Fd: 9, State: reactor.StateRead}, ops[0].Tag)
	next := ops[0].Op.(reactor.Read)
	assert.Equal(t, make([]byte, 1024), next.Buf, "buffer cleared before read")
}

func TestShortWrite(t *testing.T) {
	s, rec := newTestServer(DefaultConfig())
	read := accept(t, s, rec, 9)

	copy(read.Buf, "0123456789")
	ops := complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateRead}, 10, 0)
	require.Len(t, ops, 1)

	ops = complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateWrite}, 4, 0)
	require.Len(t, ops, 1)
	assert.Equal(t, reactor.Tag{Fd: 9, State: reactor.StateWrite}, ops[0].Tag)
	assert.Equal(t, "456789", string(ops[0].Op.(reactor.Send).Buf))

	ops = complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateWrite}, 6, 0)
	require.Len(t, ops, 1)
	assert.Equal(t, reactor.StateRead, ops[0].Tag.State)

	// a send that makes no progress ends the connection
	read = ops[0].Op.(reactor.Read)
	copy(read.Buf, "x")
	complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateRead}, 1, 0)
	ops = complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateWrite}, 0, 0)
	requireClose(t, ops, 9)
}

func TestBufferIsolation(t *testing.T) {
	s, rec := newTestServer(DefaultConfig())
	readA := accept(t, s, rec, 9)
	readB := accept(t, s, rec, 10)
	require.NotSame(t, &readA.Buf[0], &readB.Buf[0], "connections must not share a buffer")

	copy(readA.Buf, "aaaa")
	copy(readB.Buf, "bb")

	// completions arrive out of submission order
	ops := complete(s, rec, reactor.Tag{Fd: 10, State: reactor.StateRead}, 2, 0)
	require.Len(t, ops, 1)
	assert.Equal(t, 10, ops[0].Op.(reactor.Send).Fd)
	assert.Equal(t, "bb", string(ops[0].Op.(reactor.Send).Buf))

	ops = complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateRead}, 4, 0)
	require.Len(t, ops, 1)
	assert.Equal(t, 9, ops[0].Op.(reactor.Send).Fd)
	assert.Equal(t, "aaaa", string(ops[0].Op.(reactor.Send).Buf))
}

func TestNoResidueAcrossConnections(t *testing.T) {
	s, rec := newTestServer(DefaultConfig())
	read := accept(t, s, rec, 9)
	copy(read.Buf, "ping")
	complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateRead}, 4, 0)
	complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateWrite}, 4, 0)
	requireClose(t, complete(s, rec, reactor.Tag{Fd: 9, State: reactor.StateRead}, 0, 0), 9)

	// the kernel hands out the same descriptor again
	read = accept(t, s, rec, 9)
	assert.Equal(t, make([]byte, 1024), read.Buf)
}

func TestCompletionWithoutRecord(t *testing.T) {
	s, rec := newTestServer(DefaultConfig())
	assert.Empty(t, complete(s, rec, reactor.Tag{Fd: 77, State: reactor.StateRead}, 3, 0))
	assert.Empty(t, complete(s, rec, reactor.Tag{Fd: 77, State: reactor.StateWrite}, 3, 0))
	assert.Empty(t, complete(s, rec, reactor.Tag{Fd: 77, State: 9}, 0, 0))
}

func TestSubmitFailureClosesDescriptor(t *testing.T) {
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	defer unix.Close(p[1])

	s, rec := newTestServer(DefaultConfig())
	rec.Err = reactor.ErrInvalidOp
	s.HandleCompletion(context.Background(), reactor.Tag{Fd: listenerFd, State: reactor.StateAccept},
		reactor.Completion{Res: int32(p[0]), Flags: iouring.IORING_CQE_F_MORE}, rec)

	assert.Zero(t, s.Len())
	_, err := unix.FcntlInt(uintptr(p[0]), unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF)
}

func TestServerClose(t *testing.T) {
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))

	s, rec := newTestServer(DefaultConfig())
	accept(t, s, rec, int32(p[0]))
	accept(t, s, rec, int32(p[1]))
	require.Equal(t, 2, s.Len())

	require.NoError(t, s.Close())
	assert.Zero(t, s.Len())
	for _, fd := range p {
		_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		assert.ErrorIs(t, err, unix.EBADF)
	}
}
