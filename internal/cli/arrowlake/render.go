package arrowlake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pterm/pterm"

	"github.com/arrowlake/arrowlake/internal/query"
)

type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatTable:
		return FormatTable, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported -format %q (want table, csv or json)", raw)
	}
}

func Render(w io.Writer, format Format, result *query.Result) error {
	if result == nil {
		return fmt.Errorf("no result")
	}
	switch format {
	case FormatCSV:
		return renderCSV(w, result)
	case FormatJSON:
		return renderJSON(w, result)
	default:
		return renderTable(w, result)
	}
}

func renderTable(w io.Writer, result *query.Result) error {
	data := pterm.TableData{result.Columns()}
	for {
		record, ok := result.Next()
		if !ok {
			break
		}
		for row := 0; row < int(record.NumRows()); row++ {
			line := make([]string, record.NumCols())
			for col := range line {
				column := record.Column(col)
				if column.IsNull(row) {
					line[col] = "NULL"
					continue
				}
				line[col] = column.ValueStr(row)
			}
			data = append(data, line)
		}
	}

	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n(%d rows)\n", rendered, len(data)-1)
	return err
}

func renderCSV(w io.Writer, result *query.Result) error {
	writer := csv.NewWriter(w, result.Schema(), csv.WithHeader(true), csv.WithNullWriter("NULL"))
	written := 0
	for {
		record, ok := result.Next()
		if !ok {
			break
		}
		if err := writer.Write(record); err != nil {
			return err
		}
		written++
	}
	if written == 0 {
		// the header is only emitted alongside a record
		builder := array.NewRecordBuilder(memory.DefaultAllocator, result.Schema())
		empty := builder.NewRecord()
		builder.Release()
		defer empty.Release()
		if err := writer.Write(empty); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func renderJSON(w io.Writer, result *query.Result) error {
	rows := make([]json.RawMessage, 0, result.NumRows())
	for {
		record, ok := result.Next()
		if !ok {
			break
		}
		encoded, err := json.Marshal(record)
		if err != nil {
			return err
		}
		var batch []json.RawMessage
		if err := json.Unmarshal(encoded, &batch); err != nil {
			return err
		}
		rows = append(rows, batch...)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(rows); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
