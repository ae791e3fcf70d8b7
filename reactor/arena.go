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
	"unsafe"
)

const arenaBlockSize = 4 * 1024 // 4KB per growth step

// tagSlot is one arena entry. pinned keeps the operation's buffer reachable
// while the kernel may still write into it.
type tagSlot struct {
	tag    Tag
	pinned any
	gen    uint32
	live   bool
	link   int32 // next free index, -1 terminates
}

// tagArena hands out handles for tags and takes them back exactly once.
// Owned by the loop goroutine, so there is no lock.
type tagArena struct {
	slots []tagSlot
	first int32 // head of the free list, -1 when empty
	live  int

	allocs uint64
	frees  uint64
}

func newTagArena() *tagArena {
	return &tagArena{first: -1}
}

func (a *tagArena) grow() {
	const size = unsafe.Sizeof(tagSlot{})
	n := arenaBlockSize / size
	if n == 0 {
		n = 1
	}
	base := int32(len(a.slots))
	a.slots = append(a.slots, make([]tagSlot, n)...)
	// push in reverse so the lowest index is handed out first
	for i := int32(n) - 1; i >= 0; i-- {
		a.slots[base+i].link = a.first
		a.first = base + i
	}
}

func (a *tagArena) alloc(tag Tag, pinned any) Handle {
	if a.first < 0 {
		a.grow()
	}
	idx := a.first
	s := &a.slots[idx]
	a.first = s.link
	s.tag = tag
	s.pinned = pinned
	s.live = true
	s.link = -1
	a.live++
	a.allocs++
	return makeHandle(uint32(idx), s.gen)
}

func (a *tagArena) lookup(h Handle) (*tagSlot, error) {
	idx := h.index()
	if h == NullHandle || idx >= uint32(len(a.slots)) {
		return nil, ErrStaleTag
	}
	s := &a.slots[idx]
	if !s.live || s.gen != h.generation() {
		return nil, ErrStaleTag
	}
	return s, nil
}

// take copies the tag out of h. Unless keep is set the slot is released and
// every later take of h fails with ErrStaleTag.
func (a *tagArena) take(h Handle, keep bool) (Tag, error) {
	s, err := a.lookup(h)
	if err != nil {
		return Tag{}, err
	}
	tag := s.tag
	if !keep {
		a.release(int32(h.index()), s)
	}
	return tag, nil
}

// repin replaces the pinned value of a live handle.
func (a *tagArena) repin(h Handle, pinned any) {
	if s, err := a.lookup(h); err == nil {
		s.pinned = pinned
	}
}

func (a *tagArena) release(idx int32, s *tagSlot) {
	s.tag = Tag{}
	s.pinned = nil
	s.live = false
	// skip the all-ones generation reserved for WakeHandle
	if s.gen++; s.gen == math.MaxUint32 {
		s.gen = 0
	}
	s.link = a.first
	a.first = idx
	a.live--
	a.frees++
}

// reset drops every live tag, used when the ring is closed.
func (a *tagArena) reset() {
	for i := range a.slots {
		if s := &a.slots[i]; s.live {
			a.release(int32(i), s)
		}
	}
}
