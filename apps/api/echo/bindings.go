package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sjsfi/lms/core"
)

const orderingParam = "ordering"

// Ordering binds `?ordering=name,-created_at`; a leading "-" sorts descending.
// Repositories drop the fields they do not know.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	for _, val := range ctx.QueryParams()[orderingParam] {
		for _, field := range strings.Split(val, ",") {
			field = strings.TrimSpace(field)
			descending := strings.HasPrefix(field, "-")
			field = strings.TrimPrefix(field, "-")
			if field == "" {
				continue
			}
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}
