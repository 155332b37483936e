package store

import (
	"strconv"
	"strings"
)

const (
	runColumns    = `id, name, status, report, error, created_at, updated_at`
	recordColumns = `run_id, record_id, status, record, reasons, created_at`
)

// placeholder renders the n-th (1-based) bind parameter.
type placeholder func(n int) string

func dollarN(n int) string { return "$" + strconv.Itoa(n) }

func questionMark(int) string { return "?" }

// selectBuilder appends filter and paging clauses to a base SELECT whose
// WHERE clause is already open.
type selectBuilder struct {
	sql   strings.Builder
	args  []any
	place placeholder
}

func newSelect(base string, place placeholder, args ...any) *selectBuilder {
	b := &selectBuilder{place: place, args: args}
	b.sql.WriteString(base)
	return b
}

func (b *selectBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return b.place(len(b.args))
}

// and adds "AND <cond> <param>"; cond ends with its operator.
func (b *selectBuilder) and(cond string, v any) {
	b.sql.WriteString(" AND " + cond + " " + b.bind(v))
}

// page orders the result and applies the list limit and any offset.
func (b *selectBuilder) page(orderBy string, limit, offset int) {
	b.sql.WriteString(" ORDER BY " + orderBy + " LIMIT " + b.bind(listLimit(limit)))
	if offset > 0 {
		b.sql.WriteString(" OFFSET " + b.bind(offset))
	}
}

func (b *selectBuilder) build() (string, []any) {
	return b.sql.String(), b.args
}

// runsQuery lists runs newest first.
func runsQuery(filter RunFilter, place placeholder) (string, []any) {
	b := newSelect(`SELECT ` + runColumns + ` FROM runs WHERE true`, place)
	if filter.Status != "" {
		b.and("status =", string(filter.Status))
	}
	if filter.Name != "" {
		b.and("name =", filter.Name)
	}
	if !filter.CreatedAfter.IsZero() {
		b.and("created_at >", filter.CreatedAfter.UTC())
	}
	b.page("created_at DESC", filter.Limit, filter.Offset)
	return b.build()
}

// recordsQuery lists one run's records by record ID.
func recordsQuery(runID string, filter RecordFilter, place placeholder) (string, []any) {
	b := newSelect(`SELECT ` + recordColumns + ` FROM run_records WHERE run_id = ` + place(1), place, runID)
	if filter.Status != "" {
		b.and("status =", string(filter.Status))
	}
	b.page("record_id", filter.Limit, filter.Offset)
	return b.build()
}
