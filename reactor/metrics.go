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

import metrics "github.com/docker/go-metrics"

var (
	submissionsCounter metrics.Counter
	shortSubmitCounter metrics.Counter
	busyCounter        metrics.Counter
	completionsCounter metrics.LabeledCounter
	untaggedCounter    metrics.Counter
	staleTagCounter    metrics.Counter
	backlogGauge       metrics.Gauge
)

func init() {
	ns := metrics.NewNamespace("ureactor", "ring", nil)
	submissionsCounter = ns.NewCounter("submissions", "The number of operations accepted by the kernel")
	shortSubmitCounter = ns.NewCounter("short_submits", "The number of submits where the kernel took fewer operations than queued")
	busyCounter = ns.NewCounter("busy", "The number of slot requests refused because the submission queue was full")
	completionsCounter = ns.NewLabeledCounter("completions", "The number of decoded completions by in-flight state", "state")
	untaggedCounter = ns.NewCounter("untagged_completions", "The number of completions carrying no tag")
	staleTagCounter = ns.NewCounter("stale_tags", "The number of completions whose tag was already consumed")
	backlogGauge = ns.NewGauge("backlog", "The number of operations waiting for a free submission slot", metrics.Total)
	metrics.Register(ns)
}
