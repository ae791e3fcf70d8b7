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

import "strconv"

// State names the operation in flight for a socket.
// The zero value means the completion carries no connection metadata.
type State uint8

const (
	StateAccept State = iota + 1
	StateRead
	StateWrite
	StateClose
)

func (s State) String() string {
	switch s {
	case StateAccept:
		return "accept"
	case StateRead:
		return "read"
	case StateWrite:
		return "write"
	case StateClose:
		return "close"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Tag is the per-operation metadata recovered when the completion arrives.
type Tag struct {
	Fd    int32
	State State
}

// IsZero reports whether t is the untagged value.
func (t Tag) IsZero() bool { return t.State == 0 }

// Handle is the opaque value carried in user_data.
//
// Layout: generation<<32 | index+1. The low half is never 0 for a live tag,
// so NullHandle cannot collide with an arena slot.
type Handle uint64

const (
	// NullHandle marks a completion that has no associated connection.
	NullHandle Handle = 0
	// WakeHandle is reserved for the loop's wake-up poll.
	// The arena never produces generation 0xffffffff, so it cannot collide.
	WakeHandle Handle = ^Handle(0)
)

func (h Handle) index() uint32      { return uint32(h) - 1 }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

func makeHandle(idx, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(idx+1))
}
