package prometheus

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/MrEthical07/voiceGate/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() voiceGate.MetricsSnapshot
	AuditDropped() uint64
}

type droppedByEventSource interface {
	AuditDroppedByEvent() map[string]uint64
}

// PrometheusExporter renders engine metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from the given [voiceGate.Engine].
func NewPrometheusExporter(engine *voiceGate.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from any
// snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}

	outcomes := internaldefs.VerifyOutcomes
	writeFamilyHeader(&b, outcomes.Name, outcomes.Help, "counter")
	for _, v := range outcomes.Values {
		writeLabelled(&b, outcomes.Name, outcomes.Label, v.Value, snapshot.Counters[v.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
		cumulative := internaldefs.CumulativeBuckets(nonCumulative)
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}

	writeCounter(&b, "voicegate_audit_dropped_total", "Dropped audit events due to dispatcher backpressure.", dropped)

	if src, ok := p.source.(droppedByEventSource); ok {
		byEvent := src.AuditDroppedByEvent()
		if len(byEvent) > 0 {
			events := make([]string, 0, len(byEvent))
			for event := range byEvent {
				events = append(events, event)
			}
			sort.Strings(events)
			writeFamilyHeader(&b, internaldefs.AuditDroppedByEventName, internaldefs.AuditDroppedByEventHelp, "counter")
			for _, event := range events {
				writeLabelled(&b, internaldefs.AuditDroppedByEventName, internaldefs.AuditDroppedByEventLabel, event, byEvent[event])
			}
		}
	}

	return b.String()
}

func writeFamilyHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeLabelled(b *strings.Builder, name, label, value string, n uint64) {
	b.WriteString(name)
	b.WriteByte('{')
	b.WriteString(label)
	b.WriteString("=\"")
	b.WriteString(escapeLabel(value))
	b.WriteString("\"} ")
	b.WriteString(strconv.FormatUint(n, 10))
	b.WriteByte('\n')
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeFamilyHeader(b, name, help, "counter")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	writeFamilyHeader(b, name, help, "histogram")

	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	count := cumulative[len(cumulative)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')

	// Snapshots carry bucket counts only.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
