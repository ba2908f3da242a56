package persistence

import (
	"strings"

	"github.com/erp/crmsync/internal/domain/lead"
)

// leadSortColumns are the lead columns a listing may be ordered by. Sort
// input is matched against this set and never interpolated otherwise.
var leadSortColumns = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
	"name":       {},
	"company":    {},
	"value":      {},
	"status":     {},
	"column_id":  {},
}

const defaultLeadSortColumn = "updated_at"

// sortDirection returns ASC for any spelling of "asc" and DESC otherwise
func sortDirection(order string) string {
	if strings.EqualFold(strings.TrimSpace(order), "asc") {
		return "ASC"
	}
	return "DESC"
}

// sortColumn returns column when it is whitelisted in allowed, else fallback
func sortColumn(column string, allowed map[string]struct{}, fallback string) string {
	column = strings.TrimSpace(column)
	if _, ok := allowed[column]; ok {
		return column
	}
	return fallback
}

// leadOrder builds the ORDER BY clause for a lead listing
func leadOrder(filter lead.Filter) string {
	return sortColumn(filter.SortBy, leadSortColumns, defaultLeadSortColumn) + " " + sortDirection(filter.SortOrder)
}
