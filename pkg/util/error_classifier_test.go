package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"taskhive/pkg/apperror"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error = json.Unmarshal([]byte("{"), &struct{}{})

	tests := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"json", fmt.Errorf("decode: %w", syntaxErr), false, "json_decode_error"},
		{"not found", apperror.NotFound("project", 3), false, "not_found"},
		{"validation", apperror.Validation("progress", "out of range"), false, "validation_error"},
		{"deadline", fmt.Errorf("recalc: %w", context.DeadlineExceeded), true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true, "tx_conflict"},
		{"conn", &pgconn.PgError{Code: "08006"}, true, "db_connection_error"},
		{"unique", &pgconn.PgError{Code: "23505"}, false, "duplicate_key"},
		{"tx", apperror.WrapTx("recalculate", errors.New("boom")), true, "transaction_error"},
		{"unknown", errors.New("mystery"), false, "unknown_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, kind := IsRetryableError(tt.err)
			assert.Equal(t, tt.retryable, retryable)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(1, 3, true))
	assert.True(t, ShouldRetry(3, 3, true))
	assert.False(t, ShouldRetry(4, 3, true))
	assert.False(t, ShouldRetry(1, 3, false))
}
