package salesforce

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpdateRecords(t *testing.T) {
	t.Run("single batch", func(t *testing.T) {
		var capturedObject string
		var capturedRecords []CollectionRecord
		mock := &mockClient{
			updateCollectionFn: func(_ context.Context, sObject string, records []CollectionRecord) ([]CollectionResult, error) {
				capturedObject = sObject
				capturedRecords = records
				results := make([]CollectionResult, len(records))
				for i, r := range records {
					results[i] = CollectionResult{ID: r.ID, Success: true}
				}
				return results, nil
			},
		}

		updates := []RecordUpdate{
			{ID: "001a", Fields: map[string]any{"Intel_Category__c": "pharma"}},
			{ID: "001b", Fields: map[string]any{"Intel_Category__c": "finance"}},
		}
		results, err := BulkUpdateRecords(context.Background(), mock, "Account", updates)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "Account", capturedObject)
		assert.Equal(t, "001a", capturedRecords[0].ID)
		assert.Equal(t, "pharma", capturedRecords[0].Fields["Intel_Category__c"])
	})

	t.Run("splits into batches of 200", func(t *testing.T) {
		var batchSizes []int
		mock := &mockClient{
			updateCollectionFn: func(_ context.Context, _ string, records []CollectionRecord) ([]CollectionResult, error) {
				batchSizes = append(batchSizes, len(records))
				return make([]CollectionResult, len(records)), nil
			},
		}

		updates := make([]RecordUpdate, 450)
		for i := range updates {
			updates[i] = RecordUpdate{ID: fmt.Sprintf("001%03d", i), Fields: map[string]any{"x": 1}}
		}

		results, err := BulkUpdateRecords(context.Background(), mock, "Account", updates)
		require.NoError(t, err)
		assert.Len(t, results, 450)
		assert.Equal(t, []int{200, 200, 50}, batchSizes)
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		mock := &mockClient{
			updateCollectionFn: func(_ context.Context, _ string, _ []CollectionRecord) ([]CollectionResult, error) {
				t.Fatal("UpdateCollection should not be called")
				return nil, nil
			},
		}

		results, err := BulkUpdateRecords(context.Background(), mock, "Account", nil)
		require.NoError(t, err)
		assert.Nil(t, results)
	})

	t.Run("returns partial results on batch failure", func(t *testing.T) {
		calls := 0
		mock := &mockClient{
			updateCollectionFn: func(_ context.Context, _ string, records []CollectionRecord) ([]CollectionResult, error) {
				calls++
				if calls == 2 {
					return nil, errors.New("api limit")
				}
				return make([]CollectionResult, len(records)), nil
			},
		}

		updates := make([]RecordUpdate, 250)
		for i := range updates {
			updates[i] = RecordUpdate{ID: fmt.Sprintf("001%03d", i), Fields: map[string]any{"x": 1}}
		}

		results, err := BulkUpdateRecords(context.Background(), mock, "Account", updates)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bulk update Account")
		assert.Len(t, results, 200, "first batch results are kept")
	})
}

func TestMaxBatchSizeConstant(t *testing.T) {
	assert.Equal(t, 200, maxBatchSize)
}
