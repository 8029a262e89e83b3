package job

import (
	"math"

	"github.com/spf13/cast"
)

var (
	listFields       = []string{"jobs", "items", "data"}
	nextOffsetFields = []string{"nextOffset", "next_offset"}
	hasMoreFields    = []string{"hasMore", "has_more"}
)

// ResolvePage maps a listing payload into a Page. Entries that are not
// objects are skipped. When the server omits hasMore it is derived from
// the presence of nextOffset.
func ResolvePage(r Record, offset int) Page {
	page := Page{Jobs: []Job{}, NextOffset: offset}

	for _, f := range listFields {
		items, ok := r[f].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			if obj, ok := item.(map[string]any); ok {
				page.Jobs = append(page.Jobs, Resolve(Record(obj)))
			}
		}
		break
	}

	next := Number(r, nextOffsetFields...)
	if !math.IsNaN(next) {
		page.NextOffset = int(next)
	} else {
		page.NextOffset = offset + len(page.Jobs)
	}

	page.HasMore = !math.IsNaN(next)
	for _, f := range hasMoreFields {
		if v, ok := r[f]; ok && v != nil {
			if b, err := cast.ToBoolE(v); err == nil {
				page.HasMore = b
				break
			}
		}
	}
	return page
}
