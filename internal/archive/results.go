package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/franz/starcat/internal/catalog"
	"github.com/goccy/go-json"
)

const maxSummaryLen = 300

// ParseCSV reads a CSV result with a header row into one map per row, keyed
// by lowercase column name. Empty cells stay empty strings. A record with the
// wrong number of fields is kept with catalog.ColRowError set, so it is
// rejected per row instead of failing the whole result.
func ParseCSV(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	reader.Comment = '#'

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
	}
	reader.FieldsPerRecord = -1

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		if len(record) != len(columns) {
			line, _ := reader.FieldPos(0)
			row[catalog.ColRowError] = fmt.Sprintf("line %d: %d fields, want %d", line, len(record), len(columns))
		}
		rows = append(rows, row)
	}

	if rows == nil {
		rows = []map[string]string{}
	}
	return rows, nil
}

var votableInfo = regexp.MustCompile(`(?s)<INFO[^>]*name="QUERY_STATUS"[^>]*>(.*?)</INFO>`)

// summarize extracts a one-line message from an archive error document,
// which may be a VOTable, a JSON object or plain text
func summarize(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}

	if m := votableInfo.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else if strings.HasPrefix(text, "{") {
		var doc struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(body, &doc); err == nil {
			switch {
			case doc.Message != "":
				text = doc.Message
			case doc.Error != "":
				text = doc.Error
			}
		}
	}

	text = strings.Join(strings.Fields(text), " ")
	return truncate(text, maxSummaryLen)
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
