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

package main

import (
	"github.com/spf13/pflag"

	"github.com/cloudwego/ureactor/echo"
	"github.com/cloudwego/ureactor/reactor"
)

type options struct {
	addr        string
	backlog     int
	logLevel    string
	logFormat   string
	metricsAddr string

	ring reactor.Config
	echo echo.Config
}

func newOptions() *options {
	return &options{
		ring: reactor.DefaultConfig(),
		echo: echo.DefaultConfig(),
	}
}

func (o *options) installFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.addr, "addr", "127.0.0.1:8080", "Address to listen on")
	flags.IntVar(&o.backlog, "backlog", 128, "Listen backlog")
	flags.Uint32Var(&o.ring.Entries, "entries", o.ring.Entries, "Submission queue depth")
	flags.IntVar(&o.echo.BufferSize, "buffer-size", o.echo.BufferSize, "Per-connection receive buffer size in bytes")
	flags.BoolVar(&o.echo.PollListener, "poll-listener", o.echo.PollListener, "Also arm a multishot poll on the listener")
	flags.StringVarP(&o.logLevel, "log-level", "l", "info", "Set the logging level (\"trace\"|\"debug\"|\"info\"|\"warn\"|\"error\"|\"fatal\"|\"panic\")")
	flags.StringVar(&o.logFormat, "log-format", "text", "Set the logging format (\"text\"|\"json\")")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, disabled when empty")
}
