package pkg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("debit: %w", NewAppError(ErrInsufficientFundsCode, "too much", ErrInsufficientBalance))
	assert.Equal(t, ErrInsufficientFundsCode, CodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrInsufficientBalance))
	assert.Equal(t, ErrServerCode, CodeOf(errors.New("boom")))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(zap.NewNop(), "t-1", NewAppError(ErrUnsupportedAssetCode, "coin DOGE is not supported", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Status)
	assert.Equal(t, ErrUnsupportedAssetCode.Code, resp.Code)
	assert.Equal(t, "coin DOGE is not supported", resp.Message)

	resp = ToErrorResponse(zap.NewNop(), "t-2", errors.New("connection reset"))
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, ErrServerCode.Message, resp.Message)
}

func TestHandleSQLError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"no rows", pgx.ErrNoRows, ErrRecordNotFoundCode},
		{"unique", &pgconn.PgError{Code: "23505"}, ErrSQLDuplicateCode},
		{"check", &pgconn.PgError{Code: "23514"}, ErrSQLInvalidInput},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, ErrSQLConflictCode},
		{"numeric out of range", &pgconn.PgError{Code: "22003"}, ErrSQLInvalidInput},
		{"other data exception", &pgconn.PgError{Code: "22001"}, ErrSQLInvalidInput},
		{"unmapped state", &pgconn.PgError{Code: "XX000"}, ErrSQLUnknownCode},
		{"not a pg error", context.DeadlineExceeded, ErrSQLUnknownCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := HandleSQLError("t", zap.NewNop(), tt.err)
			assert.Equal(t, tt.want, CodeOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
}
