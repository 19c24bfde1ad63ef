package toolset

import (
	"context"
	"sync"

	"github.com/oculair/toolcurator/pkg/models"
)

// batchItem names one tool inside a fan-out batch.
type batchItem struct {
	ID   string
	Name string
}

// batchOutcome is one per-item result. Err is nil on success; a failure never
// affects any other item in the batch.
type batchOutcome struct {
	batchItem
	Err error
}

// fanOut runs call for every item concurrently and collects per-item
// outcomes in input order. Each call carries the per-request timeout of the
// underlying client; fanOut itself imposes none.
func fanOut(ctx context.Context, items []batchItem, call func(ctx context.Context, toolID string) error) []batchOutcome {
	outcomes := make([]batchOutcome, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item batchItem) {
			defer wg.Done()
			outcomes[i] = batchOutcome{batchItem: item, Err: call(ctx, item.ID)}
		}(i, item)
	}
	wg.Wait()
	return outcomes
}

func itemsFromTools(tools []models.Tool, include func(models.Tool) bool) []batchItem {
	var items []batchItem
	for _, t := range tools {
		if include == nil || include(t) {
			items = append(items, batchItem{ID: t.ID, Name: t.Name})
		}
	}
	return items
}
