package lifecycle

import (
	"context"
)

// BatchItem identifies one key inside a batch operation
type BatchItem struct {
	ID   string
	Name string
}

// ItemResult is the per-item outcome of a batch operation. Partial success is
// a normal outcome and is reported back verbatim.
type ItemResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RunBatch executes fn sequentially per item, collecting per-item results
// instead of aborting on first failure. A cancelled context stops the batch;
// remaining items are reported as failed with the context error.
func RunBatch(ctx context.Context, items []BatchItem, fn func(ctx context.Context, item BatchItem) error) []ItemResult {
	results := make([]ItemResult, 0, len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			for _, rest := range items[i:] {
				results = append(results, ItemResult{ID: rest.ID, Name: rest.Name, Error: err.Error()})
			}
			break
		}

		result := ItemResult{ID: item.ID, Name: item.Name, Success: true}
		if err := fn(ctx, item); err != nil {
			result.Success = false
			result.Error = err.Error()
		}
		results = append(results, result)
	}

	return results
}
