package pg

import (
	"fmt"
	"strings"

	"warden.dev/internal/auth"
)

// filter accumulates where clauses with positional arguments.
type filter struct {
	clauses []string
	args    []any
}

// arg appends v and returns its placeholder.
func (f *filter) arg(v any) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

// where adds a clause; each %s in format receives the placeholder of the
// matching value.
func (f *filter) where(format string, vals ...any) {
	ph := make([]any, len(vals))
	for i, v := range vals {
		ph[i] = f.arg(v)
	}
	f.clauses = append(f.clauses, fmt.Sprintf(format, ph...))
}

// in adds "column in (...)". An empty list matches nothing.
func (f *filter) in(column string, vals []string) {
	if len(vals) == 0 {
		f.clauses = append(f.clauses, "false")
		return
	}
	ph := make([]string, len(vals))
	for i, v := range vals {
		ph[i] = f.arg(v)
	}
	f.clauses = append(f.clauses, column+" in ("+strings.Join(ph, ", ")+")")
}

func (f *filter) String() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " where " + strings.Join(f.clauses, " and ")
}

func (f *filter) page(p auth.Page) string {
	var b strings.Builder
	if p.Limit > 0 {
		b.WriteString(" limit " + f.arg(p.Limit))
	}
	if p.Offset > 0 {
		b.WriteString(" offset " + f.arg(p.Offset))
	}
	return b.String()
}

// contains builds an ILIKE pattern matching s literally.
func contains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
