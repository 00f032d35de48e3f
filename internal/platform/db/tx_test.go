package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Fatalf("expected nil transaction, got %v", tx)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: UniqueViolation, ConstraintName: "medical_record_record_code_key"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"plain error", errors.New("boom"), "", false},
		{"duplicate any constraint", dup, "", true},
		{"duplicate wrapped", fmt.Errorf("insert: %w", dup), "", true},
		{"duplicate matching constraint", dup, "medical_record_record_code_key", true},
		{"duplicate other constraint", dup, "doctor_doctor_code_key", false},
		{"other sqlstate", &pgconn.PgError{Code: "23503"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryOnConflict(t *testing.T) {
	dup := &pgconn.PgError{Code: UniqueViolation, ConstraintName: "patient_patient_code_key"}

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 5, "patient_patient_code_key", func(_ context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return dup
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), 5, "", func(context.Context, int) error {
			calls++
			return dup
		})
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("expected ErrRetriesExhausted, got %v", err)
		}
		if calls != 5 {
			t.Errorf("expected 5 calls, got %d", calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := RetryOnConflict(context.Background(), 5, "patient_patient_code_key", func(context.Context, int) error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Fatalf("expected single failing call, got %d calls err=%v", calls, err)
		}
	})

	t.Run("other constraint is not retried", func(t *testing.T) {
		calls := 0
		other := &pgconn.PgError{Code: UniqueViolation, ConstraintName: "app_user_email_key"}
		err := RetryOnConflict(context.Background(), 5, "patient_patient_code_key", func(context.Context, int) error {
			calls++
			return other
		})
		if !IsUniqueViolation(err, "app_user_email_key") || calls != 1 {
			t.Fatalf("expected email violation after one call, got %d calls err=%v", calls, err)
		}
	})
}
