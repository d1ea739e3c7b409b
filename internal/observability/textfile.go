package observability

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetricsTextfile writes every registered metric to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteMetricsTextfile(path string) error {
	return writeTextfile(path, prometheus.DefaultGatherer)
}

func writeTextfile(path string, gatherer prometheus.Gatherer) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("metrics textfile path is required")
	}
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
