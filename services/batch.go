package services

import (
	"context"
	"fmt"
)

// BatchFailure is one item a batch operation could not process.
type BatchFailure[T any] struct {
	Item T
	Err  error
}

// BatchResult separates the items a batch operation processed from those it could not.
type BatchResult[T any] struct {
	Succeeded []T
	Failed    []BatchFailure[T]
}

// RunBatch applies op to every item in order and never stops early: an error or a
// panic on one item is recorded and processing continues with the next one.
// Only context cancellation stops the loop, the remaining items are then reported failed.
func RunBatch[T any](ctx context.Context, items []T, op func(context.Context, T) error) BatchResult[T] {
	result := BatchResult[T]{
		Succeeded: make([]T, 0, len(items)),
	}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			for _, rest := range items[i:] {
				result.Failed = append(result.Failed, BatchFailure[T]{Item: rest, Err: err})
			}
			break
		}
		if err := runItem(ctx, item, op); err != nil {
			result.Failed = append(result.Failed, BatchFailure[T]{Item: item, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, item)
	}
	return result
}

func runItem[T any](ctx context.Context, item T, op func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return op(ctx, item)
}
