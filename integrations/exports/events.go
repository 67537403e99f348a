package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"itemescrow/integrations/eventlog"
)

// Format selects the export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts "csv", "jsonl" or "parquet", case-insensitively.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	case FormatJSONL, "":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("exports: unknown format %q", raw)
	}
}

// Events renders entries as CSV or JSONL, oldest first, and returns the
// payload with its SHA-256 checksum. Parquet goes through EventsParquet.
func Events(format Format, entries []eventlog.Entry) ([]byte, string, error) {
	switch format {
	case FormatCSV:
		return EventsCSV(entries)
	case FormatJSONL:
		return EventsJSONL(entries)
	default:
		return nil, "", fmt.Errorf("exports: unknown format %q", format)
	}
}

// EventsCSV writes one row per entry. Attributes are flattened into a single
// column of sorted key=value pairs separated by semicolons.
func EventsCSV(entries []eventlog.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "id", "type", "attributes", "recorded_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, entry := range chronological(entries) {
		record := []string{
			fmt.Sprintf("%d", entry.Sequence),
			entry.ID,
			entry.Type,
			flatten(entry.Attributes),
			entry.RecordedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return withChecksum(buffer.Bytes())
}

// EventsJSONL writes one JSON object per line.
func EventsJSONL(entries []eventlog.Entry) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, entry := range chronological(entries) {
		payload := map[string]interface{}{
			"sequence":    entry.Sequence,
			"id":          entry.ID,
			"type":        entry.Type,
			"attributes":  entry.Attributes,
			"recorded_at": entry.RecordedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	return withChecksum(buffer.Bytes())
}

func chronological(entries []eventlog.Entry) []eventlog.Entry {
	out := append([]eventlog.Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func flatten(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, ";")
}

func withChecksum(data []byte) ([]byte, string, error) {
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
