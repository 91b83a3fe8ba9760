package model

import (
	"strconv"
	"strings"
)

// Record is a loosely shaped entity as it travels over the wire or sits in
// local storage. The backend spells fields in snake_case, the app in
// camelCase; accessors tolerate both, storage keeps the canonical camelCase
// form produced by Canonicalize.
type Record map[string]any

// snakeOf converts a camelCase key to its snake_case spelling.
func snakeOf(key string) string {
	var b strings.Builder
	for i, r := range key {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// lookup returns the value for a canonical camelCase key, falling back to
// the snake_case spelling.
func (r Record) lookup(key string) (any, bool) {
	if v, ok := r[key]; ok {
		return v, true
	}
	if v, ok := r[snakeOf(key)]; ok {
		return v, true
	}
	return nil, false
}

// Str returns the string value for key under either spelling.
func (r Record) Str(key string) string {
	v, ok := r.lookup(key)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

// Num returns the numeric value for key under either spelling. String
// values are parsed; anything else yields zero.
func (r Record) Num(key string) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Bool returns the boolean value for key under either spelling, accepting
// the string forms the backend sometimes emits ("true", "TRUE", "1").
func (r Record) Bool(key string) bool {
	v, ok := r.lookup(key)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return b != 0
	}
	return false
}

// Has reports whether key is present under either spelling.
func (r Record) Has(key string) bool {
	_, ok := r.lookup(key)
	return ok
}

// Canonicalize rewrites snake_case keys to camelCase in place, leaving an
// existing camelCase value untouched when both spellings occur.
func (r Record) Canonicalize() Record {
	for k, v := range r {
		if !strings.Contains(k, "_") {
			continue
		}
		camel := camelOf(k)
		if _, ok := r[camel]; !ok {
			r[camel] = v
		}
		delete(r, k)
	}
	return r
}

func camelOf(key string) string {
	parts := strings.Split(key, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// Merge overlays src onto dst field by field and returns dst. Fields absent
// from src survive, so a partial payload never erases what an existing
// record already carries.
func Merge(dst, src Record) Record {
	if dst == nil {
		dst = Record{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
