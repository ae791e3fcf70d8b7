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

import "golang.org/x/sys/unix"

// Config configures an echo Server.
type Config struct {
	// BufferSize is the per-connection receive buffer. Larger payloads are
	// echoed over successive reads.
	BufferSize int
	// AcceptFlags are accept4 flags applied to every accepted socket.
	AcceptFlags uint32
	// PollListener arms an untagged multishot poll on the listener in
	// addition to the accept. Its completions are ignored by the loop.
	PollListener bool
}

// DefaultConfig returns the default echo configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:  1024,
		AcceptFlags: unix.SOCK_CLOEXEC,
	}
}
