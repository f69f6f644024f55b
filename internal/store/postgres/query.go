package postgres

import (
	"fmt"

	"github.com/alanyoungcy/gridbot/internal/domain"
)

// listQuery appends positional filters and pagination to a base SELECT.
type listQuery struct {
	sql  string
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	return &listQuery{sql: base, args: args}
}

func (q *listQuery) add(clause string, arg any) {
	q.args = append(q.args, arg)
	q.sql += fmt.Sprintf(clause, len(q.args))
}

// window filters col by opts.Since and opts.Until.
func (q *listQuery) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.add(" AND "+col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		q.add(" AND "+col+" <= $%d", *opts.Until)
	}
}

func (q *listQuery) page(orderBy string, opts domain.ListOpts) {
	q.sql += " ORDER BY " + orderBy
	if opts.Limit > 0 {
		q.add(" LIMIT $%d", opts.Limit)
	}
	if opts.Offset > 0 {
		q.add(" OFFSET $%d", opts.Offset)
	}
}
