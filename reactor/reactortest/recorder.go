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

package reactortest

import "github.com/cloudwego/ureactor/reactor"

var (
	_ reactor.Queue     = (*Queue)(nil)
	_ reactor.Submitter = (*Recorder)(nil)
)

// Submission is one operation captured by a Recorder.
type Submission struct {
	Op  reactor.Op
	Tag reactor.Tag
}

// Recorder is a reactor.Submitter that records instead of submitting.
type Recorder struct {
	Ops     []Submission
	Accepts []int
	// Err, when set, is returned by every call.
	Err error
}

func (r *Recorder) Submit(op reactor.Op, tag reactor.Tag) error {
	if r.Err != nil {
		return r.Err
	}
	r.Ops = append(r.Ops, Submission{Op: op, Tag: tag})
	return nil
}

func (r *Recorder) PrimeAccept(fd int, addr *reactor.AcceptAddr, flags uint32) error {
	if r.Err != nil {
		return r.Err
	}
	r.Accepts = append(r.Accepts, fd)
	return nil
}

// Take returns the recorded operations and resets the list.
func (r *Recorder) Take() []Submission {
	ops := r.Ops
	r.Ops = nil
	return ops
}
