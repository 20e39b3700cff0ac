package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"salesetl/internal/config"
	"salesetl/internal/table"
)

// ReadCSV reads a delimited extract into a table named entity.
//
// Options (all optional):
//   - comma: field delimiter (default ',', "\t" or "tab" for TAB)
//   - encoding: source text encoding, any WHATWG label such as "windows-1255",
//     "iso-8859-8" or "utf-16le" (default utf-8). A leading BOM always wins.
//   - header_map: raw header -> column name, applied before normalization
//   - trim_space: trim cell whitespace (default true)
//   - lazy_quotes: tolerate bare quotes (default false)
//   - fields_per_record: enforce a field count (default: ragged rows allowed)
//
// Headers are trimmed, lower-cased and spaces become underscores. Empty cells
// become nil. Cell text is NFC-normalized.
func ReadCSV(ctx context.Context, entity string, src io.Reader, opt config.Options) (*table.Table, error) {
	r, err := decodeReader(src, opt.String("encoding", ""))
	if err != nil {
		return nil, err
	}

	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")

	cr := csv.NewReader(r)
	cr.Comma = opt.Rune("comma", ',')
	cr.LazyQuotes = opt.Bool("lazy_quotes", false)
	cr.ReuseRecord = true
	if n := opt.Int("fields_per_record", 0); n != 0 {
		cr.FieldsPerRecord = n
	} else {
		cr.FieldsPerRecord = -1
	}

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := table.New(entity, normalizeHeader(hdr, hm))

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		line++
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if blankRecord(rec) {
			continue
		}

		row := make(table.Row, len(t.Columns))
		for i := range row {
			if i >= len(rec) {
				break
			}
			row[i] = cellValue(rec[i], trim)
		}
		t.Rows = append(t.Rows, row)
	}
}

// normalizeHeader applies the header map then lower-cases and underscores
// the remaining names. A UTF-8 BOM on the first header is dropped.
func normalizeHeader(hdr []string, hm map[string]string) []string {
	out := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(norm.NFC.String(h))
		if mapped, ok := hm[h]; ok {
			out[i] = mapped
			continue
		}
		out[i] = strings.ReplaceAll(strings.ToLower(h), " ", "_")
	}
	return out
}

func cellValue(v string, trim bool) any {
	if trim {
		v = strings.TrimSpace(v)
	}
	if v == "" {
		return nil
	}
	if !norm.NFC.IsNormalString(v) {
		v = norm.NFC.String(v)
	}
	return v
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// decodeReader wraps src so that it yields UTF-8. A BOM overrides the
// configured encoding.
func decodeReader(src io.Reader, name string) (io.Reader, error) {
	var enc encoding.Encoding = unicode.UTF8
	name = strings.TrimSpace(name)
	if name != "" {
		e, err := htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
		}
		enc = e
	}
	return transform.NewReader(src, unicode.BOMOverride(enc.NewDecoder())), nil
}
