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

package bench

import (
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v2"
)

// Report is the printable summary of a Metrics.
type Report struct {
	Name string `yaml:"name"`

	AvgMallocUS  float64 `yaml:"avg_malloc_us"`
	AvgFreeUS    float64 `yaml:"avg_free_us"`
	P50MallocUS  float64 `yaml:"p50_malloc_us"`
	P95MallocUS  float64 `yaml:"p95_malloc_us"`
	P99MallocUS  float64 `yaml:"p99_malloc_us"`
	Variance     float64 `yaml:"variance"`
	JitterUS     float64 `yaml:"jitter_us"`
	Splits       uint64  `yaml:"splits"`
	Merges       uint64  `yaml:"merges"`
	AvgInternal  float64 `yaml:"avg_internal_frag_bytes"`
	LargestFree  int     `yaml:"largest_free_block"`
	TotalFree    int     `yaml:"total_free_memory"`
	ExternalPct  float64 `yaml:"external_fragmentation_pct"`
	PeakAlloc    int     `yaml:"peak_allocated"`
	FailedAllocs int     `yaml:"failed_allocations"`
}

// Report summarizes m.
func (m *Metrics) Report() Report {
	var internal float64
	if m.InternalFragCount > 0 {
		internal = float64(m.InternalFragSum) / float64(m.InternalFragCount)
	}
	return Report{
		Name:         m.Name,
		AvgMallocUS:  round(micros(Avg(m.MallocTimes)), 3),
		AvgFreeUS:    round(micros(Avg(m.FreeTimes)), 3),
		P50MallocUS:  round(micros(Percentile(m.MallocTimes, 0.50)), 3),
		P95MallocUS:  round(micros(Percentile(m.MallocTimes, 0.95)), 3),
		P99MallocUS:  round(micros(Percentile(m.MallocTimes, 0.99)), 3),
		Variance:     round(Variance(m.MallocTimes), 3),
		JitterUS:     round(micros(Jitter(m.MallocTimes)), 3),
		Splits:       m.Splits,
		Merges:       m.Merges,
		AvgInternal:  round(internal, 2),
		LargestFree:  m.LargestFree,
		TotalFree:    m.TotalFree,
		ExternalPct:  round(ExternalFragmentation(m.LargestFree, m.TotalFree), 2),
		PeakAlloc:    m.PeakAllocated,
		FailedAllocs: m.Failed,
	}
}

// WriteTable renders reports side by side, one column per allocator.
func WriteTable(w io.Writer, reports ...Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(label string, f func(r Report) string) {
		fmt.Fprint(tw, label)
		for _, r := range reports {
			fmt.Fprint(tw, "\t", f(r))
		}
		fmt.Fprintln(tw)
	}
	row("metric", func(r Report) string { return r.Name })
	row("avg malloc (us)", func(r Report) string { return fmt.Sprint(r.AvgMallocUS) })
	row("avg free (us)", func(r Report) string { return fmt.Sprint(r.AvgFreeUS) })
	row("p50 malloc (us)", func(r Report) string { return fmt.Sprint(r.P50MallocUS) })
	row("p95 malloc (us)", func(r Report) string { return fmt.Sprint(r.P95MallocUS) })
	row("p99 malloc (us)", func(r Report) string { return fmt.Sprint(r.P99MallocUS) })
	row("variance", func(r Report) string { return fmt.Sprint(r.Variance) })
	row("jitter p99-p50 (us)", func(r Report) string { return fmt.Sprint(r.JitterUS) })
	row("splits", func(r Report) string { return fmt.Sprint(r.Splits) })
	row("merges", func(r Report) string { return fmt.Sprint(r.Merges) })
	row("avg internal frag (B)", func(r Report) string { return fmt.Sprint(r.AvgInternal) })
	row("largest free block (B)", func(r Report) string { return fmt.Sprint(r.LargestFree) })
	row("total free memory (B)", func(r Report) string { return fmt.Sprint(r.TotalFree) })
	row("external frag (%)", func(r Report) string { return fmt.Sprint(r.ExternalPct) })
	row("peak allocated (B)", func(r Report) string { return fmt.Sprint(r.PeakAlloc) })
	row("failed allocations", func(r Report) string { return fmt.Sprint(r.FailedAllocs) })
	return tw.Flush()
}

// WriteYAML renders reports as a YAML list.
func WriteYAML(w io.Writer, reports ...Report) error {
	b, err := yaml.Marshal(reports)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
