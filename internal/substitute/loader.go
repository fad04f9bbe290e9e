package substitute

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/parquet-go"
)

// tableRow is the named-column shape of a parquet mapping table.
type tableRow struct {
	Original  string `parquet:"original"`
	Pseudonym string `parquet:"pseudonym"`
}

// LoadTable reads a two-column mapping table. CSV tables are positional
// (header row required, content ignored); parquet tables carry named
// original/pseudonym columns. Values are trimmed of surrounding
// whitespace.
func LoadTable(path string, delimiter rune) ([]Entry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return loadParquetTable(path)
	default:
		return loadCSVTable(path, delimiter)
	}
}

func loadCSVTable(path string, delimiter rune) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingLoad, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if delimiter != 0 {
		reader.Comma = delimiter
	}
	reader.FieldsPerRecord = -1

	// Header row is required; its content is ignored.
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: %s: missing header row", ErrMappingLoad, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrMappingLoad, path, err)
	}

	var entries []Entry
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: %v", ErrMappingLoad, path, row, err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("%w: %s row %d: expected 2 columns, got %d", ErrMappingLoad, path, row, len(record))
		}

		entries = append(entries, Entry{
			Key:   strings.TrimSpace(record[0]),
			Value: strings.TrimSpace(record[1]),
		})
	}

	return entries, nil
}

func loadParquetTable(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMappingLoad, err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var entries []Entry
	for {
		var row tableRow
		err := reader.Read(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMappingLoad, path, err)
		}

		entries = append(entries, Entry{
			Key:   strings.TrimSpace(row.Original),
			Value: strings.TrimSpace(row.Pseudonym),
		})
	}

	return entries, nil
}
