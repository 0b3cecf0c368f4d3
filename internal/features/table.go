// Package features turns raw HR records into the numeric feature vectors
// the classifier is trained on, and carries the schema that binds training
// and inference together.
package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"churn-predictor/internal/common"

	"github.com/rs/zerolog/log"
)

// Value is one raw cell. Null marks an empty CSV cell or a JSON null.
type Value struct {
	Raw  string
	Null bool
}

// Record is one raw employee keyed by field name.
type Record map[string]Value

// Table is a loaded dataset with its parallel label column.
type Table struct {
	Path   string
	Header []string
	Rows   []Record
	Labels []int
}

// LoadCSV reads a headered CSV file and checks it against the codebook.
// Every failure is a *common.DataLoadError.
func LoadCSV(path string, cb Codebook) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &common.DataLoadError{Path: path, Err: err}
	}
	defer file.Close()

	t, err := ReadCSV(file, cb)
	if err != nil {
		var dle *common.DataLoadError
		if errors.As(err, &dle) {
			dle.Path = path
			return nil, dle
		}
		return nil, &common.DataLoadError{Path: path, Err: err}
	}
	t.Path = path

	log.Info().
		Str("path", path).
		Int("rows", len(t.Rows)).
		Int("columns", len(t.Header)).
		Msg("dataset loaded")
	return t, nil
}

// ReadCSV is LoadCSV over an arbitrary reader.
func ReadCSV(r io.Reader, cb Codebook) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &common.DataLoadError{Err: fmt.Errorf("file is empty")}
	}
	if err != nil {
		return nil, &common.DataLoadError{Err: fmt.Errorf("read header: %w", err)}
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		header[i] = h
		index[h] = i
	}
	required := append([]string{cb.LabelField}, cb.Fields()...)
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return nil, &common.DataLoadError{Err: fmt.Errorf("missing column %q", name)}
		}
	}
	idCol, hasID := index[cb.IDField]

	t := &Table{Header: header}
	for row := 1; ; row++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &common.DataLoadError{Row: row, Err: err}
		}

		label, err := parseLabel(rec[index[cb.LabelField]])
		if err != nil {
			return nil, &common.DataLoadError{Row: row, Err: err}
		}

		r := make(Record, len(cb.Columns)+1)
		for _, c := range cb.Columns {
			cell := rec[index[c.Name]]
			r[c.Name] = Value{Raw: cell, Null: strings.TrimSpace(cell) == ""}
		}
		if hasID && cb.IDField != "" {
			r[cb.IDField] = Value{Raw: rec[idCol]}
		}
		t.Rows = append(t.Rows, r)
		t.Labels = append(t.Labels, label)
	}

	if len(t.Rows) == 0 {
		return nil, &common.DataLoadError{Err: fmt.Errorf("no data rows")}
	}
	return t, nil
}

func parseLabel(s string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("label %q is not numeric", s)
	}
	switch f {
	case 0:
		return 0, nil
	case 1:
		return 1, nil
	}
	return 0, fmt.Errorf("label %v is not binary", f)
}

// ClassCounts returns the number of rows per label.
func ClassCounts(labels []int) map[int]int {
	out := make(map[int]int, 2)
	for _, l := range labels {
		out[l]++
	}
	return out
}
