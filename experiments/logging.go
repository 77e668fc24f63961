package experiments

import (
	"encoding/csv"
	"log"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/unixpickle/essentials"
)

// A LogPrinter emits metrics through the standard library
// logger, one line per emission.
type LogPrinter struct{}

// LogScalars logs the metrics in sorted key order.
func (l LogPrinter) LogScalars(step int, metrics map[string]float64) {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	line := "frames " + strconv.Itoa(step) + ":"
	for _, k := range keys {
		line += " " + k + "=" + strconv.FormatFloat(metrics[k], 'g', 6, 64)
	}
	log.Println(line)
}

// A CSVLogger appends metrics to a CSV file in long form:
// one (step, name, value) row per metric.
type CSVLogger struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVLogger creates or truncates the file at path.
func NewCSVLogger(path string) (*CSVLogger, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, essentials.AddCtx("create CSV logger", err)
	}
	return &CSVLogger{file: file, writer: csv.NewWriter(file)}, nil
}

// LogScalars writes one row per metric and flushes.
func (c *CSVLogger) LogScalars(step int, metrics map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.writer.Write([]string{
			strconv.Itoa(step),
			k,
			strconv.FormatFloat(metrics[k], 'g', -1, 64),
		})
	}
	c.writer.Flush()
}

// Close flushes and closes the underlying file.
func (c *CSVLogger) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}
