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

package reactor

import (
	"github.com/pkg/errors"

	"github.com/cloudwego/ureactor/internal/iouring"
)

// NewRing sets up a kernel io_uring with cfg.Entries submission slots.
func NewRing(cfg Config) (*Ring, error) {
	if cfg.Entries == 0 {
		cfg.Entries = DefaultConfig().Entries
	}
	q, err := iouring.NewIOUring(cfg.Entries)
	if err != nil {
		return nil, errors.Wrapf(err, "new ring with %d entries", cfg.Entries)
	}
	return NewRingFrom(q), nil
}
