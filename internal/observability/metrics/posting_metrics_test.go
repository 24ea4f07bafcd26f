package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/stockledger/internal/apperror"
	"gorm.io/gorm"
)

func TestClassifyPostingReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: PostingReasonDeadlineExceeded,
		},
		{
			name: "invariant_code",
			err:  fmt.Errorf("post: %w", apperror.ErrInsufficientCostLayers),
			want: "insufficient_cost_layers",
		},
		{
			name: "validation",
			err:  apperror.Validation("ref", "required", "ref is required"),
			want: PostingReasonValidation,
		},
		{
			name: "immutable",
			err:  apperror.ErrAlreadyPosted,
			want: PostingReasonImmutable,
		},
		{
			name: "rate_not_found",
			err:  apperror.ErrRateNotFound,
			want: PostingReasonRateNotFound,
		},
		{
			name: "lock_conflict",
			err:  apperror.ErrLockConflict,
			want: PostingReasonLockConflict,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: PostingReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: PostingReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: PostingReasonUniqueViolation,
		},
		{
			name: "sqlite_busy",
			err:  errors.New("database is locked (5) (SQLITE_BUSY)"),
			want: PostingReasonDBLockTimeout,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: PostingReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyPostingReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObservePosting(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newPostingMetrics(registry, Config{
		ServiceName: "stockledger",
		Environment: "test",
	})

	metrics.ObservePosting(OperationJournalPost, 3*time.Millisecond, nil)
	metrics.ObservePosting(OperationJournalPost, time.Millisecond, apperror.ErrUnbalancedEntry)
	metrics.AddLayersConsumed("FIFO", 2)

	if got := testutil.ToFloat64(metrics.postings.WithLabelValues(OperationJournalPost)); got != 1 {
		t.Fatalf("expected 1 posting, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.rejections.WithLabelValues(OperationJournalPost, "unbalanced_entry")); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.layersConsumed.WithLabelValues("FIFO")); got != 2 {
		t.Fatalf("expected 2 layers consumed, got %v", got)
	}
}
