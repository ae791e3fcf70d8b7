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
	"math"
	"net"
	"strconv"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ureactor/internal/iouring"
)

// Kind identifies an operation variant.
type Kind uint8

const (
	KindNop Kind = iota
	KindAccept
	KindMultishotAccept
	KindRead
	KindSend
	KindPoll
	KindPollMultishot
	KindClose
)

var kindNames = [...]string{
	KindNop:             "nop",
	KindAccept:          "accept",
	KindMultishotAccept: "multishot_accept",
	KindRead:            "read",
	KindSend:            "send",
	KindPoll:            "poll",
	KindPollMultishot:   "poll_multishot",
	KindClose:           "close",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Op is one I/O intent. The set of variants is closed: only the types in
// this package implement it.
type Op interface {
	Kind() Kind

	validate() error
	// prep writes the kernel encoding. It must not touch UserData.
	prep(sqe *iouring.IOUringSQE)
	// pin returns the memory the kernel reads or writes until completion.
	pin() any
}

// AcceptAddr receives the peer address of an accepted connection.
type AcceptAddr struct {
	Raw unix.RawSockaddrAny
	Len uint32
}

// NewAcceptAddr returns an AcceptAddr sized for any socket family.
func NewAcceptAddr() *AcceptAddr {
	return &AcceptAddr{Len: unix.SizeofSockaddrAny}
}

// Peer decodes the stored address. For a multishot accept the kernel
// rewrites it on every connection, so read it before the next completion.
func (a *AcceptAddr) Peer() net.Addr {
	if a == nil {
		return nil
	}
	switch a.Raw.Addr.Family {
	case unix.AF_INET:
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(&a.Raw))
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: ntohs(sa.Port)}
	case unix.AF_INET6:
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(&a.Raw))
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: ntohs(sa.Port)}
	}
	return nil
}

func ntohs(p uint16) int {
	b := (*[2]byte)(unsafe.Pointer(&p))
	return int(b[0])<<8 | int(b[1])
}

func (a *AcceptAddr) prep(sqe *iouring.IOUringSQE) {
	if a == nil {
		return
	}
	a.Len = unix.SizeofSockaddrAny
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&a.Raw)))
	sqe.Off = uint64(uintptr(unsafe.Pointer(&a.Len)))
}

func checkFd(op string, fd int) error {
	if fd < 0 || fd > math.MaxInt32 {
		return errors.Wrapf(ErrInvalidOp, "%s: bad fd %d", op, fd)
	}
	return nil
}

func checkBuf(op string, buf []byte) error {
	if len(buf) == 0 || uint64(len(buf)) > math.MaxUint32 {
		return errors.Wrapf(ErrInvalidOp, "%s: buffer length %d", op, len(buf))
	}
	return nil
}

// Nop completes immediately with result 0.
type Nop struct{}

func (Nop) Kind() Kind                   { return KindNop }
func (Nop) validate() error              { return nil }
func (Nop) prep(sqe *iouring.IOUringSQE) { sqe.Opcode = iouring.IORING_OP_NOP }
func (Nop) pin() any                     { return nil }

// Accept accepts one connection on Fd. Flags are accept4 flags.
type Accept struct {
	Fd    int
	Addr  *AcceptAddr
	Flags uint32
}

func (op Accept) Kind() Kind      { return KindAccept }
func (op Accept) validate() error { return checkFd("accept", op.Fd) }
func (op Accept) pin() any        { return op.Addr }

func (op Accept) prep(sqe *iouring.IOUringSQE) {
	sqe.Opcode = iouring.IORING_OP_ACCEPT
	sqe.Fd = int32(op.Fd)
	sqe.OpcodeFlags = op.Flags
	op.Addr.prep(sqe)
}

// MultishotAccept stays armed on Listener and yields one completion per
// accepted connection. Completions flagged with more-to-come share the tag.
type MultishotAccept struct {
	Listener int
	Addr     *AcceptAddr
	Flags    uint32
}

func (op MultishotAccept) Kind() Kind      { return KindMultishotAccept }
func (op MultishotAccept) validate() error { return checkFd("multishot accept", op.Listener) }
func (op MultishotAccept) pin() any        { return op.Addr }

func (op MultishotAccept) prep(sqe *iouring.IOUringSQE) {
	sqe.Opcode = iouring.IORING_OP_ACCEPT
	sqe.Fd = int32(op.Listener)
	sqe.OpcodeFlags = op.Flags
	sqe.IoPrio |= iouring.IORING_ACCEPT_MULTISHOT
	op.Addr.prep(sqe)
}

// Read reads up to len(Buf) bytes from Fd.
type Read struct {
	Fd  int
	Buf []byte
}

func (op Read) Kind() Kind { return KindRead }
func (op Read) pin() any   { return op.Buf }

func (op Read) validate() error {
	if err := checkFd("read", op.Fd); err != nil {
		return err
	}
	return checkBuf("read", op.Buf)
}

func (op Read) prep(sqe *iouring.IOUringSQE) {
	sqe.Opcode = iouring.IORING_OP_READ
	sqe.Fd = int32(op.Fd)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.Buf[0])))
	sqe.Len = uint32(len(op.Buf))
}

// Send writes Buf to the socket Fd. Flags are send(2) flags.
type Send struct {
	Fd    int
	Buf   []byte
	Flags uint32
}

func (op Send) Kind() Kind { return KindSend }
func (op Send) pin() any   { return op.Buf }

func (op Send) validate() error {
	if err := checkFd("send", op.Fd); err != nil {
		return err
	}
	return checkBuf("send", op.Buf)
}

func (op Send) prep(sqe *iouring.IOUringSQE) {
	sqe.Opcode = iouring.IORING_OP_SEND
	sqe.Fd = int32(op.Fd)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.Buf[0])))
	sqe.Len = uint32(len(op.Buf))
	sqe.OpcodeFlags = op.Flags
}

// Poll completes once when any of Events is ready on Fd.
type Poll struct {
	Fd     int
	Events uint32
}

func (op Poll) Kind() Kind { return KindPoll }
func (op Poll) pin() any   { return nil }

func (op Poll) validate() error {
	if op.Events == 0 {
		return errors.Wrap(ErrInvalidOp, "poll: empty event mask")
	}
	return checkFd("poll", op.Fd)
}

func (op Poll) prep(sqe *iouring.IOUringSQE) {
	sqe.Opcode = iouring.IORING_OP_POLL_ADD
	sqe.Fd = int32(op.Fd)
	sqe.OpcodeFlags = op.Events
}

// PollMultishot completes every time one of Events becomes ready on Fd.
type PollMultishot struct {
	Fd     int
	Events uint32
}

func (op PollMultishot) Kind() Kind { return KindPollMultishot }
func (op PollMultishot) pin() any   { return nil }

func (op PollMultishot) validate() error {
	if op.Events == 0 {
		return errors.Wrap(ErrInvalidOp, "poll multishot: empty event mask")
	}
	return checkFd("poll multishot", op.Fd)
}

func (op PollMultishot) prep(sqe *iouring.IOUringSQE) {
	sqe.Opcode = iouring.IORING_OP_POLL_ADD
	sqe.Fd = int32(op.Fd)
	sqe.Len = iouring.IORING_POLL_ADD_MULTI
	sqe.OpcodeFlags = op.Events
}

// Close closes Fd. It does not cancel operations already in flight on it.
type Close struct {
	Fd int
}

func (op Close) Kind() Kind      { return KindClose }
func (op Close) validate() error { return checkFd("close", op.Fd) }
func (op Close) pin() any        { return nil }

func (op Close) prep(sqe *iouring.IOUringSQE) {
	sqe.Opcode = iouring.IORING_OP_CLOSE
	sqe.Fd = int32(op.Fd)
}
