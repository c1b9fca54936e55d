package metrics

import (
	"bufio"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const eventsFamily = "uwc_broker_events_total"

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// Gauge is a point-in-time value read on every scrape.
type Gauge struct {
	Name  string
	Help  string
	Value func() float64
}

// PrometheusHandler serves the event counters as one labelled counter family
// in the Prometheus text format, followed by any gauges.
func PrometheusHandler(m *Metrics, gauges ...Gauge) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		bw := bufio.NewWriter(w)
		writeEvents(bw, m.Snapshot())
		for _, g := range gauges {
			if g.Name == "" || g.Value == nil {
				continue
			}
			writeHeader(bw, g.Name, g.Help, "gauge")
			bw.WriteString(g.Name + " " + strconv.FormatFloat(g.Value(), 'g', -1, 64) + "\n")
		}
		_ = bw.Flush()
	})
}

func writeEvents(bw *bufio.Writer, snap map[string]uint64) {
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	writeHeader(bw, eventsFamily, "Broker event counters.", "counter")
	for _, name := range names {
		bw.WriteString(eventsFamily + `{event="` + labelEscaper.Replace(name) + `"} `)
		bw.WriteString(strconv.FormatUint(snap[name], 10) + "\n")
	}
}

func writeHeader(bw *bufio.Writer, name, help, kind string) {
	if help != "" {
		bw.WriteString("# HELP " + name + " " + help + "\n")
	}
	bw.WriteString("# TYPE " + name + " " + kind + "\n")
}
