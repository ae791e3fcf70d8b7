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

package reactor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/ureactor/reactor"
)

func newKernelRing(t *testing.T) *reactor.Ring {
	t.Helper()
	r, err := reactor.NewRing(reactor.Config{Entries: 8})
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newKernelRing(t)

	got := make(chan reactor.Tag, 1)
	l := reactor.NewLoop(r, reactor.HandlerFunc(func(ctx context.Context, tag reactor.Tag, c reactor.Completion, s reactor.Submitter) {
		got <- tag
	}))
	tag := reactor.Tag{Fd: 42, State: reactor.StateClose}
	require.NoError(t, l.Submit(reactor.Nop{}, tag))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case g := <-got:
		assert.Equal(t, tag, g)
	case <-time.After(5 * time.Second):
		t.Fatal("nop completion not dispatched")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, r.Stats().InFlight)
}

func TestWakeWithoutRun(t *testing.T) {
	r := newKernelRing(t)
	l := reactor.NewLoop(r, reactor.HandlerFunc(func(context.Context, reactor.Tag, reactor.Completion, reactor.Submitter) {}))
	assert.NoError(t, l.Wake())
}
