// Package stats mirrors the store's global counters into
// Prometheus gauges, via the store.Observer hook, and renders the shutdown
// statistics as a tablewriter-formatted listing of remaining files.
package stats

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/etrian-dev/ramfsd/internal/store"
)

// PromObserver implements store.Observer, updating one gauge per counter on
// every mutation.
type PromObserver struct {
	CurrentFiles        prometheus.Gauge
	CurrentBytes        prometheus.Gauge
	MaxFiles            prometheus.Gauge
	MaxBytes            prometheus.Gauge
	EvictionInvocations prometheus.Counter
	MaxConnectedClients prometheus.Gauge

	lastEvictions int64
}

// NewPromObserver registers and returns the gauges/counter, ready to be
// wired via Store.SetObserver.
func NewPromObserver(reg prometheus.Registerer) *PromObserver {
	o := &PromObserver{
		CurrentFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ramfsd_current_files", Help: "Number of files currently held by the store.",
		}),
		CurrentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ramfsd_current_bytes", Help: "Total payload bytes currently held by the store.",
		}),
		MaxFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ramfsd_max_files", Help: "Historical maximum of concurrently stored files.",
		}),
		MaxBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ramfsd_max_bytes", Help: "Historical maximum of total payload bytes held.",
		}),
		EvictionInvocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ramfsd_eviction_invocations_total", Help: "Number of eviction engine invocations.",
		}),
		MaxConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ramfsd_max_connected_clients", Help: "Historical maximum of simultaneously connected clients.",
		}),
	}
	reg.MustRegister(o.CurrentFiles, o.CurrentBytes, o.MaxFiles, o.MaxBytes, o.EvictionInvocations, o.MaxConnectedClients)
	return o
}

// Observe implements store.Observer.
func (o *PromObserver) Observe(s store.CountersSnapshot) {
	o.CurrentFiles.Set(float64(s.CurrentFiles))
	o.CurrentBytes.Set(float64(s.CurrentBytes))
	o.MaxFiles.Set(float64(s.MaxFiles))
	o.MaxBytes.Set(float64(s.MaxBytes))
	o.MaxConnectedClients.Set(float64(s.MaxConnectedClients))
	if s.EvictionInvocations > o.lastEvictions {
		o.EvictionInvocations.Add(float64(s.EvictionInvocations - o.lastEvictions))
		o.lastEvictions = s.EvictionInvocations
	}
}

// RemainingFile is one surviving file in the shutdown report, oldest first.
type RemainingFile struct {
	Path string
	Size int64
}

// PrintShutdownReport writes the shutdown statistics to w: the
// historical maxima and eviction count, then a table of remaining files
// ordered oldest-first with their sizes.
func PrintShutdownReport(w io.Writer, snap store.CountersSnapshot, remaining []RemainingFile) {
	fmt.Fprintf(w, "max bytes used:           %d\n", snap.MaxBytes)
	fmt.Fprintf(w, "max file count:           %d\n", snap.MaxFiles)
	fmt.Fprintf(w, "eviction invocations:     %d\n", snap.EvictionInvocations)
	fmt.Fprintf(w, "max concurrent clients:   %d\n", snap.MaxConnectedClients)
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"path", "size (bytes)"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, f := range remaining {
		table.Append([]string{f.Path, fmt.Sprintf("%d", f.Size)})
	}
	table.Render()
}
