package pkg

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ExposeErrorDetails adds the full error chain to HTTP error bodies outside release mode.
var ExposeErrorDetails = gin.Mode() != gin.ReleaseMode

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvariantViolation marks upstream data corruption. It is never retried and must alert.
	ErrInvariantViolation = errors.New("invariant violation")
)

// ErrorCode pairs a stable machine code with the HTTP status it maps to.
type ErrorCode struct {
	Code    string
	Status  int
	Message string
}

var (
	ErrInvalidInputCode   = ErrorCode{Code: "APP_INVALID_INPUT", Status: http.StatusBadRequest, Message: "invalid input"}
	ErrServerCode         = ErrorCode{Code: "APP_INTERNAL", Status: http.StatusInternalServerError, Message: "internal server error"}
	ErrRecordNotFoundCode = ErrorCode{Code: "APP_NOT_FOUND", Status: http.StatusNotFound, Message: "record not found"}

	ErrMalformedMessageCode = ErrorCode{Code: "INTAKE_MALFORMED", Status: http.StatusBadRequest, Message: "malformed message"}

	ErrInsufficientFundsCode = ErrorCode{Code: "LEDGER_INSUFFICIENT_FUNDS", Status: http.StatusUnprocessableEntity, Message: "insufficient balance"}
	ErrUnsupportedAssetCode  = ErrorCode{Code: "LEDGER_UNSUPPORTED_ASSET", Status: http.StatusUnprocessableEntity, Message: "coin not supported"}
	ErrInvalidAddressCode    = ErrorCode{Code: "LEDGER_INVALID_ADDRESS", Status: http.StatusUnprocessableEntity, Message: "invalid recipient address"}
	ErrInvalidAmountCode     = ErrorCode{Code: "LEDGER_INVALID_AMOUNT", Status: http.StatusUnprocessableEntity, Message: "amount not representable for coin"}
	ErrAccountMissingCode    = ErrorCode{Code: "LEDGER_ACCOUNT_MISSING", Status: http.StatusConflict, Message: "account vanished before debit"}

	ErrInvariantViolationCode = ErrorCode{Code: "LEDGER_INVARIANT_VIOLATION", Status: http.StatusInternalServerError, Message: "ledger invariant violated"}

	ErrSQLUnknownCode   = ErrorCode{Code: "SQL_UNKNOWN", Status: http.StatusInternalServerError, Message: "sql error"}
	ErrSQLConflictCode  = ErrorCode{Code: "SQL_CONFLICT", Status: http.StatusConflict, Message: "sql conflict"}
	ErrSQLDuplicateCode = ErrorCode{Code: "SQL_DUPLICATE", Status: http.StatusConflict, Message: "duplicate record"}
	ErrSQLInvalidInput  = ErrorCode{Code: "SQL_INVALID_INPUT", Status: http.StatusBadRequest, Message: "invalid input"}
)

// AppError carries a public message and code while keeping the internal cause in the chain.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e AppError) Unwrap() error { return e.Cause }

func NewAppError(code ErrorCode, msg string, cause error) error {
	return AppError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the error code carried by err, or ErrServerCode for anything that is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrServerCode
}

type ErrorResponse struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ToErrorResponse renders err for an HTTP client. Errors without an AppError become a bare 500.
func ToErrorResponse(logger *zap.Logger, traceID string, err error) ErrorResponse {
	code := ErrServerCode
	message := ErrServerCode.Message
	var appErr AppError
	if errors.As(err, &appErr) {
		code, message = appErr.Code, appErr.Message
	}

	fields := []zap.Field{zap.String(TraceId, traceID), zap.String("code", code.Code), zap.Error(err)}
	if code.Status >= http.StatusInternalServerError {
		logger.Error("request_failed", fields...)
	} else {
		logger.Warn("request_rejected", fields...)
	}

	resp := ErrorResponse{Status: code.Status, Code: code.Code, Message: message}
	if ExposeErrorDetails {
		resp.Details = err.Error()
	}
	return resp
}

const sqlStateUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

var sqlStateCodes = map[string]struct {
	code ErrorCode
	msg  string
}{
	sqlStateUniqueViolation: {ErrSQLDuplicateCode, "duplicate value violates unique constraint"},
	"23503":                 {ErrSQLConflictCode, "foreign key violation"},
	"23514":                 {ErrSQLInvalidInput, "check constraint violated"},
	"22P02":                 {ErrSQLInvalidInput, "invalid input syntax"},
	"22003":                 {ErrSQLInvalidInput, "numeric value out of range"},
	"40001":                 {ErrSQLConflictCode, "serialization failure"},
	"40P01":                 {ErrSQLConflictCode, "deadlock detected"},
	"55P03":                 {ErrSQLConflictCode, "lock not available"},
}

// HandleSQLError maps a pgx error to an AppError. The pgx error stays in the chain.
func HandleSQLError(traceId string, logger *zap.Logger, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return NewAppError(ErrRecordNotFoundCode, "no records found", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		logger.Error("sql_error", zap.String(TraceId, traceId), zap.Error(err))
		return NewAppError(ErrSQLUnknownCode, "sql error", err)
	}

	logger.Error("sql_error",
		zap.String(TraceId, traceId),
		zap.String("sqlstate", pgErr.Code),
		zap.String("table", pgErr.TableName),
		zap.String("constraint", pgErr.ConstraintName),
		zap.String("detail", pgErr.Detail),
		zap.Error(err),
	)
	if mapped, ok := sqlStateCodes[pgErr.Code]; ok {
		return NewAppError(mapped.code, mapped.msg, err)
	}
	// class 22 is data exception: the value itself is bad and will never be accepted
	if strings.HasPrefix(pgErr.Code, "22") {
		return NewAppError(ErrSQLInvalidInput, "invalid data", err)
	}
	return NewAppError(ErrSQLUnknownCode, "sql error", err)
}
