package pkg

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ExposeErrorDetails adds the internal cause to error responses. On in debug and test mode.
var ExposeErrorDetails = gin.Mode() == gin.DebugMode || gin.Mode() == gin.TestMode

var (
	ErrSQL                 = errors.New("sql error")
	ErrForeignKeyViolation = errors.New("foreign key violation")

	ErrInvalidOrder       = errors.New("invalid order")
	ErrDuplicateClaim     = errors.New("an open claim already exists for this order")
	ErrClaimLocked        = errors.New("claim for this order is being processed")
	ErrPredictorThrottled = errors.New("predictor throttled")
	ErrSubmissionTimeout  = errors.New("submission timed out")
	ErrNoCapability       = errors.New("no submission capability for carrier")
)

// OpenClaimConstraint is the partial unique index allowing one non-terminal claim per order.
const OpenClaimConstraint = "claims_open_order_uidx"

// ErrorCode pairs a stable machine code with its HTTP status and default message.
type ErrorCode struct {
	Code    string
	Status  int
	Message string
}

var (
	ErrInvalidInputCode   = ErrorCode{Code: "APP_INVALID_INPUT", Status: http.StatusBadRequest, Message: "invalid input"}
	ErrServerCode         = ErrorCode{Code: "APP_INTERNAL", Status: http.StatusInternalServerError, Message: "internal server error"}
	ErrRecordNotFoundCode = ErrorCode{Code: "APP_NOT_FOUND", Status: http.StatusNotFound, Message: "record not found"}

	ErrValidationCode     = ErrorCode{Code: "RECOVERY_VALIDATION", Status: http.StatusBadRequest, Message: "order failed validation"}
	ErrDependencyCode     = ErrorCode{Code: "RECOVERY_DEPENDENCY", Status: http.StatusBadGateway, Message: "dependency unavailable"}
	ErrSubmissionCode     = ErrorCode{Code: "RECOVERY_SUBMISSION", Status: http.StatusBadGateway, Message: "claim submission failed"}
	ErrDuplicateClaimCode = ErrorCode{Code: "RECOVERY_DUPLICATE_CLAIM", Status: http.StatusConflict, Message: "open claim already exists"}

	ErrSQLUnknownCode   = ErrorCode{Code: "SQL_UNKNOWN", Status: http.StatusInternalServerError, Message: "sql error"}
	ErrSQLConflictCode  = ErrorCode{Code: "SQL_CONFLICT", Status: http.StatusConflict, Message: "sql conflict"}
	ErrSQLDuplicateCode = ErrorCode{Code: "SQL_DUPLICATE", Status: http.StatusConflict, Message: "duplicate record"}
	ErrSQLInvalidInput  = ErrorCode{Code: "SQL_INVALID_INPUT", Status: http.StatusBadRequest, Message: "invalid input"}
)

// AppError carries a public message and code; Cause stays internal.
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

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ToErrorResponse logs err and renders it. Anything that is not an AppError is a 500.
func ToErrorResponse(logger *zap.Logger, traceID string, err error) ErrorResponse {
	resp := ErrorResponse{
		Status:  ErrServerCode.Status,
		Code:    ErrServerCode.Code,
		Message: ErrServerCode.Message,
	}
	var appErr AppError
	if errors.As(err, &appErr) {
		resp.Status = appErr.Code.Status
		resp.Code = appErr.Code.Code
		resp.Message = appErr.Message
	}
	logger.Error("request failed", zap.String(TraceId, traceID), zap.String("code", resp.Code), zap.Error(err))
	if ExposeErrorDetails {
		resp.Details = err.Error()
	}
	return resp
}

type sqlState struct {
	code  ErrorCode
	msg   string
	cause error
}

// sqlStates maps Postgres SQLSTATE codes onto application errors.
var sqlStates = map[string]sqlState{
	"23505": {ErrSQLDuplicateCode, "duplicate value violates unique constraint", ErrSQL},
	"23503": {ErrSQLConflictCode, "foreign key violation", ErrForeignKeyViolation},
	"23514": {ErrSQLInvalidInput, "check constraint violated", ErrSQL},
	"22P02": {ErrSQLInvalidInput, "invalid input syntax", ErrSQL},
	"22001": {ErrSQLInvalidInput, "value too long for column", ErrSQL},
	"22003": {ErrSQLInvalidInput, "numeric value out of range", ErrSQL},
}

// HandleSQLError converts a pgx error into an AppError. A unique violation on the open-claim
// index becomes ErrDuplicateClaim.
func HandleSQLError(traceID string, logger *zap.Logger, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		logger.Warn("sql: no rows", zap.String(TraceId, traceID))
		return NewAppError(ErrRecordNotFoundCode, "no records found", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		logger.Error("sql: query failed", zap.String(TraceId, traceID), zap.Error(err))
		return NewAppError(ErrSQLUnknownCode, "sql error", err)
	}

	logger.Error("sql: constraint or data error",
		zap.String(TraceId, traceID),
		zap.String("sqlstate", pgErr.Code),
		zap.String("message", pgErr.Message),
		zap.String("table", pgErr.TableName),
		zap.String("constraint", pgErr.ConstraintName),
	)

	if pgErr.Code == "23505" && pgErr.ConstraintName == OpenClaimConstraint {
		return NewAppError(ErrDuplicateClaimCode, "an open claim already exists for this order", ErrDuplicateClaim)
	}
	if st, ok := sqlStates[pgErr.Code]; ok {
		return NewAppError(st.code, st.msg, st.cause)
	}
	return NewAppError(ErrSQLUnknownCode, "sql error", ErrSQL)
}
