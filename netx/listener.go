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

// Package netx creates listening sockets for completion-based servers.
package netx

import (
	"net"
)

// Listener is a bound, listening, non-blocking TCP socket whose descriptor
// is driven by an io_uring accept instead of net.Listener.Accept.
type Listener struct {
	fd   int
	addr *net.TCPAddr
}

// RawFd returns the listening socket descriptor.
func (l *Listener) RawFd() int { return l.fd }

// Addr returns the bound address, with the kernel-chosen port when the
// requested port was 0.
func (l *Listener) Addr() net.Addr { return l.addr }
