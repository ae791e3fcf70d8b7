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

// Config configures the kernel ring.
type Config struct {
	// Entries is the requested submission queue depth.
	// The kernel rounds it up to a power of two.
	Entries uint32
}

// DefaultConfig returns the default ring configuration.
func DefaultConfig() Config {
	return Config{Entries: 256}
}

// Option configures a Loop.
type Option func(*loopOptions)

type loopOptions struct {
	wakeup bool
}

func defaultLoopOptions() loopOptions {
	return loopOptions{wakeup: true}
}

// WithWakeup controls whether Run arms an eventfd so that Wake and context
// cancellation can interrupt a blocked wait. Enabled by default.
func WithWakeup(enable bool) Option {
	return func(o *loopOptions) { o.wakeup = enable }
}
