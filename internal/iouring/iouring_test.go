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
	"net"
	"sync"
	"syscall"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfUnsupported skips the test when the kernel refuses io_uring_setup,
// e.g. under seccomp or with io_uring_disabled set.
func skipIfUnsupported(t *testing.T) {
	t.Helper()
	ring, err := NewIOUring(2)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	ring.Close()
}

// getFd extracts the file descriptor from a net.Conn
func getFd(t *testing.T, conn net.Conn) int {
	t.Helper()

	syscallConn, err := conn.(syscall.Conn).SyscallConn()
	require.NoError(t, err)

	var fd int
	err = syscallConn.Control(func(f uintptr) {
		fd = int(f)
	})
	require.NoError(t, err)

	return fd
}

// connPair represents a client-server connection pair
type connPair struct {
	client net.Conn
	server net.Conn
}

func (p *connPair) Close() {
	_ = p.client.Close()
	_ = p.server.Close()
}

// createConnections creates n TCP connection pairs
func createConnections(t *testing.T, n int) []connPair {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ret := make([]connPair, n)
	var wg sync.WaitGroup
	var acceptErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			conn, err := ln.Accept()
			if err != nil {
				acceptErr = err
				return
			}
			ret[i].server = conn
		}
	}()
	addr := ln.Addr().String()
	for i := 0; i < n; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		ret[i].client = conn
	}
	wg.Wait()
	require.NoError(t, acceptErr)
	return ret
}

func TestEntrySizes(t *testing.T) {
	assert.Equal(t, uintptr(64), unsafe.Sizeof(IOUringSQE{}))
	assert.Equal(t, uintptr(16), unsafe.Sizeof(IOUringCQE{}))
	assert.Equal(t, uintptr(120), unsafe.Sizeof(IOUringParams{}))
}

func TestSubmitEmpty(t *testing.T) {
	skipIfUnsupported(t)

	ring, err := NewIOUring(4)
	require.NoError(t, err)
	defer ring.Close()

	n, errno := ring.Submit()
	assert.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, 0, n)
	assert.Nil(t, ring.PeekCQE())
}

func TestPeekSQEFull(t *testing.T) {
	skipIfUnsupported(t)

	ring, err := NewIOUring(4)
	require.NoError(t, err)
	defer ring.Close()

	entries := ring.Entries()
	require.GreaterOrEqual(t, entries, uint32(4))
	for i := uint32(0); i < entries; i++ {
		sqe := ring.PeekSQE(true)
		require.NotNil(t, sqe)
		sqe.Opcode = IORING_OP_NOP
		sqe.UserData = uint64(i + 1)
		ring.AdvanceSQ()
	}
	assert.Nil(t, ring.PeekSQE(true))
	assert.Equal(t, entries, ring.PendingSQEs())

	submitted, errno := ring.Submit()
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, int(entries), submitted)
	assert.Zero(t, ring.PendingSQEs())

	seen := make(map[uint64]bool)
	for i := uint32(0); i < entries; i++ {
		cqe, err := ring.WaitCQE()
		require.NoError(t, err)
		assert.Equal(t, int32(0), cqe.Res)
		seen[cqe.UserData] = true
		ring.AdvanceCQ()
	}
	assert.Len(t, seen, int(entries))
	assert.NotNil(t, ring.PeekSQE(true))
}

func TestConnectionReadSend(t *testing.T) {
	skipIfUnsupported(t)

	ring, err := NewIOUring(8)
	require.NoError(t, err)
	defer ring.Close()

	c := createConnections(t, 1)[0]
	defer c.Close()

	readBuf := make([]byte, 128)
	sqe := ring.PeekSQE(true)
	sqe.Opcode = IORING_OP_READ
	sqe.Fd = int32(getFd(t, c.server))
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&readBuf[0])))
	sqe.Len = uint32(len(readBuf))
	sqe.UserData = 100
	ring.AdvanceSQ()

	testData := []byte("hello world")
	sqe = ring.PeekSQE(true)
	sqe.Opcode = IORING_OP_SEND
	sqe.Fd = int32(getFd(t, c.client))
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&testData[0])))
	sqe.Len = uint32(len(testData))
	sqe.OpcodeFlags = syscall.MSG_NOSIGNAL
	sqe.UserData = 200
	ring.AdvanceSQ()

	submitted, errno := ring.Submit()
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, 2, submitted)

	var readRes, sendRes int32
	for i := 0; i < 2; i++ {
		cqe, err := ring.WaitCQE()
		require.NoError(t, err)

		switch cqe.UserData {
		case 100:
			readRes = cqe.Res
		case 200:
			sendRes = cqe.Res
		default:
			require.Fail(t, "unexpected user data")
		}
		assert.False(t, cqe.More())
		ring.AdvanceCQ()
	}

	require.Equal(t, int32(len(testData)), sendRes)
	require.Equal(t, int32(len(testData)), readRes)
	assert.Equal(t, string(testData), string(readBuf[:readRes]))
}

func TestConnectionClosed(t *testing.T) {
	skipIfUnsupported(t)

	const numConns = 10

	ring, err := NewIOUring(2 * numConns)
	require.NoError(t, err)
	defer ring.Close()

	conns := createConnections(t, numConns)
	defer func() {
		for _, p := range conns {
			p.Close()
		}
	}()

	for i := 0; i < numConns; i++ {
		sqe := ring.PeekSQE(true)
		require.NotNil(t, sqe)
		sqe.Opcode = IORING_OP_POLL_ADD
		sqe.Fd = int32(getFd(t, conns[i].server))
		sqe.UserData = uint64(i)
		sqe.OpcodeFlags = uint32(POLLHUP | POLLERR | POLLRDHUP)
		ring.AdvanceSQ()
	}
	submitted, errno := ring.Submit()
	require.Equal(t, syscall.Errno(0), errno)
	require.Equal(t, numConns, submitted)

	closedIndices := make(map[int]bool)
	for _, i := range []int{1, 4, 7} {
		conns[i].client.Close()
		closedIndices[i] = true
	}

	time.Sleep(10 * time.Millisecond)
	for i := 0; i < len(closedIndices); i++ {
		cqe, err := ring.WaitCQE()
		require.NoError(t, err)
		assert.True(t, closedIndices[int(cqe.UserData)])
		assert.NotZero(t, uint32(cqe.Res)&(POLLHUP|POLLRDHUP|POLLERR))
		ring.AdvanceCQ()
	}
	assert.Zero(t, ring.Overflow())
}
