package domain

import (
	"sort"
	"strings"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), string(OrderDesc)) {
		return OrderDesc
	}
	return OrderAsc
}

// ListQuery is the client-side projection applied to request listings.
// The zero value returns everything in creation order.
type ListQuery struct {
	ExcludeClosed bool
	Order         SortOrder
	Limit         int
	Offset        int
}

// ApplyQuery filters, orders and pages a creation-ordered listing. The input
// slice is not modified.
func ApplyQuery(in []*Request, q ListQuery) []*Request {
	out := make([]*Request, 0, len(in))
	for _, r := range in {
		if q.ExcludeClosed && r.IsDone {
			continue
		}
		out = append(out, r)
	}
	if q.Order == OrderDesc {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].CreationDate.Equal(out[j].CreationDate) {
				return out[i].ID > out[j].ID
			}
			return out[i].CreationDate.After(out[j].CreationDate)
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []*Request{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}
