package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// listQuery appends the time-range, ordering and paging clauses of opts to
// base. tsCol is the column the range applies to; args carries any
// placeholders base already uses.
func listQuery(base, tsCol string, opts domain.ListOpts, args []any) (string, []any) {
	var b strings.Builder
	b.WriteString(base)

	if opts.Since != nil {
		args = append(args, *opts.Since)
		fmt.Fprintf(&b, " AND %s >= $%d", tsCol, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		fmt.Fprintf(&b, " AND %s <= $%d", tsCol, len(args))
	}

	fmt.Fprintf(&b, " ORDER BY %s DESC", tsCol)

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
