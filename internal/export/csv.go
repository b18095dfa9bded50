package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-apnea/internal/models"
)

// TimestampLayout renders cluster bounds as UTC ISO-8601 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var header = []string{"index", "start", "end", "durationSec", "count", "severity"}

// ClustersToCSV renders clusters in input order, one row each after the header. The
// index column is 1-based and the output carries no trailing newline.
func ClustersToCSV(clusters []models.Cluster) (string, error) {
	var buf bytes.Buffer
	if err := WriteClustersCSV(&buf, clusters); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// WriteClustersCSV streams the same table to dst, terminating every record with a newline.
func WriteClustersCSV(dst io.Writer, clusters []models.Cluster) error {
	w := csv.NewWriter(dst)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, c := range clusters {
		record := []string{
			strconv.Itoa(i + 1),
			FormatTimestamp(c.Start),
			FormatTimestamp(c.End),
			FormatFloat(c.DurationSec),
			strconv.Itoa(c.Count),
			FormatFloat(c.Severity),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write cluster %d: %w", i+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// FormatTimestamp formats t in UTC with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatFloat prints the shortest representation that parses back to v.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
