// Package reconcile merges a conversation's two message sub-collections into
// one ordered, deduplicated, live view.
package reconcile

import (
	"sort"

	"crmchat/server/internal/models"
)

// Merge folds sources into one list keyed by message id and sorts it
// ascending by timestamp. Sources are applied in order, so when an id
// appears more than once the later source's entry wins but keeps the
// position of the first occurrence. Equal timestamps keep that order;
// no secondary key is applied.
func Merge(sources ...[]models.Message) []models.Message {
	n := 0
	for _, s := range sources {
		n += len(s)
	}
	out := make([]models.Message, 0, n)
	index := make(map[string]int, n)
	for _, s := range sources {
		for _, m := range s {
			if i, ok := index[m.ID]; ok {
				out[i] = m
				continue
			}
			index[m.ID] = len(out)
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// chronological reverses a newest-first snapshot into arrival order.
func chronological(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
