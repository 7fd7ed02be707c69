// Package csv reads delimited text into tables that follow a dataset
// contract. Header names are normalized and mapped onto contract columns;
// malformed rows are reported and skipped, never coerced.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"tradepipe/internal/config"
	"tradepipe/internal/logging"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
)

// ReadTable parses r into a table of contract c.
//
// The first record is the header. Every contract column must be present in
// it (after BOM stripping, normalization and options.header_map); a missing
// or duplicated column is returned as a *pipeerr.ParseError on line 1 and no
// rows are produced. Extra source columns are ignored.
//
// Rows whose width differs from the header, and rows encoding/csv cannot
// parse, are passed to onErr (which may be nil) and skipped. Empty cells
// become nulls; with trim_space (default true) surrounding whitespace is
// removed first.
//
// Options:
//   - comma (string; first rune used; default ',')
//   - lazy_quotes (bool; default false)
//   - trim_space (bool; default true)
//   - header_map (object; source header → column name)
func ReadTable(
	ctx context.Context,
	r io.Reader,
	c schema.Contract,
	opt config.Options,
	onErr func(*pipeerr.ParseError),
) (table.Table, error) {
	log := logging.For("csv").WithField("dataset", c.Name)

	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1 // widths are checked against the header below
	cr.ReuseRecord = true

	hdr, err := cr.Read()
	if err != nil {
		reason := "missing header"
		if !errors.Is(err, io.EOF) {
			reason = "read header: " + err.Error()
		}
		return table.Table{}, &pipeerr.ParseError{Dataset: c.Name, Line: 1, Reason: reason}
	}
	hdr = StripHeaderBOM(hdr)
	width := len(hdr)

	colIx, err := mapColumns(c, hdr, hm)
	if err != nil {
		return table.Table{}, err
	}

	var (
		rows    []table.Row
		skipped int
	)
	report := func(line int, reason string) {
		skipped++
		pe := &pipeerr.ParseError{Dataset: c.Name, Line: line, Reason: reason}
		log.WithFields(logrus.Fields{"line": line, "reason": reason}).Debug("csv: row skipped")
		if onErr != nil {
			onErr(pe)
		}
	}

	const logEveryN = 50_000
	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return table.Table{}, err
			}
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report(perr.StartLine, perr.Err.Error())
				continue
			}
			return table.Table{}, pipeerr.IO("read "+c.Name, err)
		}

		line, _ := cr.FieldPos(0)
		if len(rec) != width {
			report(line, fmt.Sprintf("expected %d fields, got %d", width, len(rec)))
			continue
		}

		row := make(table.Row, len(colIx))
		for t, si := range colIx {
			v := rec[si]
			if trim {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[t] = table.Str(v)
			}
		}
		rows = append(rows, row)

		if len(rows)%logEveryN == 0 {
			log.WithFields(logrus.Fields{"line": line, "rows": len(rows)}).Debug("csv: progress")
		}
	}

	log.WithFields(logrus.Fields{"rows": len(rows), "skipped": skipped}).Debug("csv: done")
	return table.Table{Schema: c, Rows: rows}, nil
}

// mapColumns returns, for each contract field, the index of its source
// column in hdr.
func mapColumns(c schema.Contract, hdr []string, hm map[string]string) ([]int, error) {
	srcIdx := make(map[string]int, len(hdr))
	dup := map[string]bool{}
	for i, h := range hdr {
		name := mapHeader(h, hm)
		if _, seen := srcIdx[name]; seen {
			dup[name] = true
			continue
		}
		srcIdx[name] = i
	}

	colIx := make([]int, len(c.Fields))
	var missing []string
	for t, f := range c.Fields {
		if dup[f.Name] {
			return nil, &pipeerr.ParseError{Dataset: c.Name, Line: 1, Reason: fmt.Sprintf("duplicate column %q in header", f.Name)}
		}
		si, ok := srcIdx[f.Name]
		if !ok {
			missing = append(missing, f.Name)
			continue
		}
		colIx[t] = si
	}
	if len(missing) > 0 {
		return nil, &pipeerr.ParseError{Dataset: c.Name, Line: 1, Reason: "missing columns " + strings.Join(missing, ", ")}
	}
	return colIx, nil
}
