package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Options is a loosely typed option bag attached to a source (CSV dialect,
// encoding, header map). Values come from JSON (numbers as float64) or YAML
// (numbers as int), so the accessors accept both.
type Options map[string]any

// String returns the string option or def when absent.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the boolean option or def when absent or unparsable.
func (o Options) Bool(key string, def bool) bool {
	switch t := o[key].(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return def
}

// Int returns the integer option or def when absent or unparsable.
func (o Options) Int(key string, def int) int {
	switch t := o[key].(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string option. "\t" and "tab" both mean TAB.
func (o Options) Rune(key string, def rune) rune {
	s, ok := o[key].(string)
	if !ok || s == "" {
		return def
	}
	if s == `\t` || strings.EqualFold(s, "tab") {
		return '\t'
	}
	for _, r := range s {
		return r
	}
	return def
}

// StringMap returns a map option with values rendered as strings.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	switch t := o[key].(type) {
	case map[string]any:
		for k, v := range t {
			out[k] = fmt.Sprint(v)
		}
	case map[string]string:
		for k, v := range t {
			out[k] = v
		}
	}
	return out
}
