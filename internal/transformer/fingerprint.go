package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"salesetl/internal/table"
)

// Fingerprint returns a SHA-256 over the table content that ignores row
// order: each row is hashed from its canonical form, the row hashes are
// sorted and hashed again together with the column list.
//
// Two loads of the same data produce the same fingerprint regardless of how
// the rows were chunked or in which order chunks landed.
func Fingerprint(columns []string, rows [][]any) string {
	sums := make([][sha256.Size]byte, 0, len(rows))
	var b strings.Builder
	var scratch [64]byte
	for _, r := range rows {
		b.Reset()
		for i, v := range r {
			if i > 0 {
				b.WriteByte('\x1f')
			}
			appendCanonicalValue(&b, v, &scratch)
		}
		sums = append(sums, sha256.Sum256([]byte(b.String())))
	}
	sort.Slice(sums, func(i, j int) bool {
		return string(sums[i][:]) < string(sums[j][:])
	})

	h := sha256.New()
	h.Write([]byte(strings.Join(columns, "\x1f")))
	h.Write([]byte{'\n'})
	for _, s := range sums {
		h.Write(s[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TableFingerprint is Fingerprint over an in-memory table.
func TableFingerprint(t *table.Table) string {
	if t == nil {
		return Fingerprint(nil, nil)
	}
	rows := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = r
	}
	return Fingerprint(t.Columns, rows)
}

// Fingerprints returns TableFingerprint for every star table keyed by name.
func (s Star) Fingerprints() map[string]string {
	out := map[string]string{}
	for _, t := range append(s.Dimensions(), s.FactSales) {
		if t != nil {
			out[t.Name] = TableFingerprint(t)
		}
	}
	return out
}

// appendCanonicalValue appends a stable representation of v without going
// through fmt for the common scalar types.
func appendCanonicalValue(b *strings.Builder, v any, scratch *[64]byte) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(t)
	case []byte:
		b.Write(t)
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case int:
		b.Write(strconv.AppendInt(scratch[:0], int64(t), 10))
	case int32:
		b.Write(strconv.AppendInt(scratch[:0], int64(t), 10))
	case int64:
		b.Write(strconv.AppendInt(scratch[:0], t, 10))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case time.Time:
		tt := t
		if !tt.IsZero() {
			tt = tt.UTC()
		}
		b.WriteString(tt.Format(time.RFC3339Nano))
	default:
		b.WriteString(fmt.Sprintf("%v", t))
	}
}
