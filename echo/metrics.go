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

import metrics "github.com/docker/go-metrics"

var (
	connectionsGauge   metrics.Gauge
	acceptErrorCounter metrics.Counter
	echoedBytesCounter metrics.Counter
	closedCounter      metrics.LabeledCounter
)

func init() {
	ns := metrics.NewNamespace("ureactor", "echo", nil)
	connectionsGauge = ns.NewGauge("connections", "The number of open echo connections", metrics.Total)
	acceptErrorCounter = ns.NewCounter("accept_errors", "The number of failed accept completions")
	echoedBytesCounter = ns.NewCounter("echoed_bytes", "The number of bytes sent back to clients")
	closedCounter = ns.NewLabeledCounter("closed", "The number of closed connections by reason", "reason")
	metrics.Register(ns)
}
