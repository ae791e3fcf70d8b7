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

// Package echo implements a TCP echo service as a reactor.Handler.
//
// Each connection has exactly one operation in flight, and its tag names
// that operation:
//
//	accept  -> read   on a new socket
//	read    -> write  with the bytes read, or close on EOF / error
//	write   -> write  with the unsent rest, read when done, close on error
//	close   -> (record already removed)
package echo

import (
	"context"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/cloudwego/ureactor/internal/iouring"
	"github.com/cloudwego/ureactor/reactor"
)

// conn is the per-socket record. buf is never shared between sockets.
type conn struct {
	fd  int
	buf []byte
	out []byte // unsent part of buf
}

// Server is the echo connection state machine. It is driven by a single
// reactor.Loop and is not safe for concurrent use.
type Server struct {
	cfg      Config
	listener int
	addr     *reactor.AcceptAddr
	conns    map[int32]*conn
}

var _ reactor.Handler = (*Server)(nil)

// NewServer returns a server accepting on the listening socket listenerFd.
func NewServer(listenerFd int, cfg Config) *Server {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &Server{
		cfg:      cfg,
		listener: listenerFd,
		addr:     reactor.NewAcceptAddr(),
		conns:    make(map[int32]*conn),
	}
}

// Start arms the standing accept, and the listener poll when configured.
func (s *Server) Start(ctx context.Context, sub reactor.Submitter) error {
	if s.cfg.PollListener {
		op := reactor.PollMultishot{Fd: s.listener, Events: iouring.POLLIN}
		if err := sub.Submit(op, reactor.Tag{}); err != nil {
			return errors.Wrap(err, "poll listener")
		}
	}
	if err := sub.PrimeAccept(s.listener, s.addr, s.cfg.AcceptFlags); err != nil {
		return errors.Wrap(err, "prime accept")
	}
	log.G(ctx).WithFields(log.Fields{
		"listener":    s.listener,
		"buffer_size": s.cfg.BufferSize,
	}).Info("echo server started")
	return nil
}

// Len returns the number of open connection records.
func (s *Server) Len() int { return len(s.conns) }

// HandleCompletion implements reactor.Handler.
func (s *Server) HandleCompletion(ctx context.Context, tag reactor.Tag, c reactor.Completion, sub reactor.Submitter) {
	switch tag.State {
	case reactor.StateAccept:
		s.onAccept(ctx, c, sub)
	case reactor.StateRead:
		s.onRead(ctx, tag, c, sub)
	case reactor.StateWrite:
		s.onWrite(ctx, tag, c, sub)
	case reactor.StateClose:
		s.onClose(ctx, tag, c)
	default:
		log.G(ctx).WithField("tag", tag).Warn("unexpected tag")
	}
}

func (s *Server) onAccept(ctx context.Context, c reactor.Completion, sub reactor.Submitter) {
	if !c.More() && rearmable(c) {
		if err := sub.PrimeAccept(s.listener, s.addr, s.cfg.AcceptFlags); err != nil {
			log.G(ctx).WithError(err).Error("re-arm accept")
		}
	}
	if c.Res < 0 {
		acceptErrorCounter.Inc()
		log.G(ctx).WithError(c.Err()).Warn("accept failed")
		return
	}

	fd := int(c.Res)
	if old, ok := s.conns[c.Res]; ok {
		// descriptor reused while the old record lingered
		s.release(old)
	}
	cn := &conn{fd: fd, buf: mcache.Malloc(s.cfg.BufferSize)}
	s.conns[c.Res] = cn
	connectionsGauge.Inc()
	log.G(ctx).WithFields(log.Fields{
		"fd":   fd,
		"peer": s.addr.Peer(),
	}).Debug("accepted")

	s.read(ctx, cn, sub)
}

// rearmable reports whether a terminated multishot accept should be
// installed again. Errors caused by the listener itself are final.
func rearmable(c reactor.Completion) bool {
	switch c.Err() {
	case unix.EBADF, unix.EINVAL, unix.ENOTSOCK, unix.ECANCELED:
		return false
	}
	return true
}

func (s *Server) onRead(ctx context.Context, tag reactor.Tag, c reactor.Completion, sub reactor.Submitter) {
	cn, ok := s.conns[tag.Fd]
	if !ok {
		log.G(ctx).WithField("fd", tag.Fd).Debug("read completion without record")
		return
	}
	switch {
	case c.Res == 0:
		s.close(ctx, cn, sub, "eof")
	case c.Res < 0:
		log.G(ctx).WithField("fd", cn.fd).WithError(c.Err()).Debug("read failed")
		s.close(ctx, cn, sub, "read_error")
	default:
		cn.out = cn.buf[:c.Res]
		s.send(ctx, cn, sub)
	}
}

func (s *Server) onWrite(ctx context.Context, tag reactor.Tag, c reactor.Completion, sub reactor.Submitter) {
	cn, ok := s.conns[tag.Fd]
	if !ok {
		log.G(ctx).WithField("fd", tag.Fd).Debug("write completion without record")
		return
	}
	if c.Res < 0 {
		log.G(ctx).WithField("fd", cn.fd).WithError(c.Err()).Debug("send failed")
		s.close(ctx, cn, sub, "write_error")
		return
	}
	n := int(c.Res)
	if n == 0 && len(cn.out) > 0 {
		s.close(ctx, cn, sub, "write_error")
		return
	}
	echoedBytesCounter.Inc(float64(n))
	if n < len(cn.out) {
		cn.out = cn.out[n:]
		s.send(ctx, cn, sub)
		return
	}
	cn.out = nil
	s.read(ctx, cn, sub)
}

func (s *Server) onClose(ctx context.Context, tag reactor.Tag, c reactor.Completion) {
	entry := log.G(ctx).WithField("fd", tag.Fd)
	if c.Res < 0 {
		entry.WithError(c.Err()).Warn("close failed")
		return
	}
	entry.Debug("closed")
}

func (s *Server) read(ctx context.Context, cn *conn, sub reactor.Submitter) {
	// no residue from an earlier payload may be echoed
	clear(cn.buf)
	err := sub.Submit(reactor.Read{Fd: cn.fd, Buf: cn.buf}, reactor.Tag{Fd: int32(cn.fd), State: reactor.StateRead})
	if err != nil {
		log.G(ctx).WithField("fd", cn.fd).WithError(err).Warn("submit read")
		s.close(ctx, cn, sub, "submit_error")
	}
}

func (s *Server) send(ctx context.Context, cn *conn, sub reactor.Submitter) {
	op := reactor.Send{Fd: cn.fd, Buf: cn.out, Flags: unix.MSG_NOSIGNAL}
	if err := sub.Submit(op, reactor.Tag{Fd: int32(cn.fd), State: reactor.StateWrite}); err != nil {
		log.G(ctx).WithField("fd", cn.fd).WithError(err).Warn("submit send")
		s.close(ctx, cn, sub, "submit_error")
	}
}

// close removes the record and submits the Close. The descriptor is closed
// synchronously if the Close cannot be queued.
func (s *Server) close(ctx context.Context, cn *conn, sub reactor.Submitter, reason string) {
	s.release(cn)
	closedCounter.WithValues(reason).Inc()
	log.G(ctx).WithFields(log.Fields{"fd": cn.fd, "reason": reason}).Debug("closing")

	if err := sub.Submit(reactor.Close{Fd: cn.fd}, reactor.Tag{Fd: int32(cn.fd), State: reactor.StateClose}); err != nil {
		log.G(ctx).WithField("fd", cn.fd).WithError(err).Warn("submit close")
		unix.Close(cn.fd)
	}
}

func (s *Server) release(cn *conn) {
	delete(s.conns, int32(cn.fd))
	if cn.buf != nil {
		mcache.Free(cn.buf)
		cn.buf, cn.out = nil, nil
	}
	connectionsGauge.Dec()
}

// Close closes every open connection synchronously. Call it only after the
// loop has stopped and its ring is closed, since in-flight reads still
// point into the connection buffers.
func (s *Server) Close() error {
	var firstErr error
	for _, cn := range s.conns {
		fd := cn.fd
		s.release(cn)
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close fd %d", fd)
		}
	}
	return firstErr
}
