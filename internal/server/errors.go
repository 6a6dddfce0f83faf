package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	"github.com/smallbiznis/lanes/internal/pricing"
	registrationdomain "github.com/smallbiznis/lanes/internal/registration/domain"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"github.com/smallbiznis/lanes/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors is returned by handlers that reject a request body before
// it reaches a service.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// ErrorHandlingMiddleware renders the last handler error unless the handler
// already wrote a response.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, payload := mapError(last.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err != nil {
		_ = c.Error(err)
		c.Abort()
	}
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

// validationFields lists domain errors answered with 400 and the request
// field each one points at.
var validationFields = []struct {
	err   error
	field string
}{
	{ErrInvalidRequest, "request"},
	{catalogdomain.ErrValidation, "request"},
	{tournamentdomain.ErrInvalidName, "name"},
	{tournamentdomain.ErrInvalidTimezone, "timezone"},
	{tournamentdomain.ErrUnknownConfigKey, "key"},
	{tournamentdomain.ErrInvalidConfigVal, "value"},
	{registrationdomain.ErrInvalidPerson, "person"},
	{registrationdomain.ErrInvalidTeam, "request"},
	{registrationdomain.ErrInvalidCode, "code"},
	{ledgerdomain.ErrInvalidAmount, "request"},
	{ledgerdomain.ErrEmptyPurchaseSet, "request"},
	{paymentdomain.ErrInvalidProvider, "provider"},
	{paymentdomain.ErrInvalidPayload, "request"},
	{paymentdomain.ErrInvalidEvent, "request"},
	{paymentdomain.ErrUnknownPrice, "request"},
	{auditdomain.ErrInvalidPageToken, "request"},
	{auditdomain.ErrInvalidAction, "request"},
}

var conflictErrors = []error{
	ErrConflict,
	tournamentdomain.ErrInvalidTransition,
	tournamentdomain.ErrLocked,
	tournamentdomain.ErrStaleState,
	registrationdomain.ErrRegistrationClosed,
	registrationdomain.ErrTeamFull,
	registrationdomain.ErrPositionTaken,
	registrationdomain.ErrFreeEntryLinked,
	registrationdomain.ErrFreeEntryUnlinked,
	registrationdomain.ErrAlreadyConfirmed,
	registrationdomain.ErrNoEntryFee,
	ledgerdomain.ErrAlreadyVoided,
	ledgerdomain.ErrAlreadyPaid,
}

var notFoundErrors = []error{
	ErrNotFound,
	tournamentdomain.ErrNotFound,
	catalogdomain.ErrNotFound,
	ledgerdomain.ErrNotFound,
	registrationdomain.ErrTeamNotFound,
	registrationdomain.ErrBowlerNotFound,
	registrationdomain.ErrFreeEntryNotFound,
	paymentdomain.ErrBowlerNotFound,
	paymentdomain.ErrSessionNotFound,
	paymentdomain.ErrProviderNotFound,
	auditdomain.ErrInvalidTournament,
	gorm.ErrRecordNotFound,
}

var (
	unauthorizedErrors = []error{ErrUnauthorized, paymentdomain.ErrInvalidSignature}
	unavailableErrors  = []error{ErrServiceUnavailable, paymentdomain.ErrGatewayUnavailable}
)

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func mapError(err error) (int, errorPayload) {
	if details, ok := validationDetails(err); ok {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: "validation error", Errors: details}
	}

	switch {
	case err == nil:
	case isAny(err, unauthorizedErrors):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case isAny(err, conflictErrors), db.IsDuplicateKeyErr(err):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case isAny(err, notFoundErrors):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case isAny(err, unavailableErrors):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	}
	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}

// validationDetails builds the 400 body for err, reporting false when err is
// not a validation failure.
func validationDetails(err error) ([]ValidationError, bool) {
	if err == nil {
		return nil, false
	}

	var handlerErr *ValidationErrors
	if errors.As(err, &handlerErr) && handlerErr != nil {
		return handlerErr.Errors, true
	}
	var basketErr *pricing.BasketError
	if errors.As(err, &basketErr) {
		code := "invalid_basket"
		if basketErr.Code != nil {
			code = basketErr.Code.Error()
		}
		return []ValidationError{{Field: "basket", Code: code, Message: err.Error()}}, true
	}
	var itemErr *catalogdomain.ValidationError
	if errors.As(err, &itemErr) {
		return []ValidationError{{Field: itemErr.Field, Code: catalogdomain.ErrValidation.Error(), Message: err.Error()}}, true
	}

	for _, v := range validationFields {
		if errors.Is(err, v.err) {
			return []ValidationError{{Field: v.field, Code: v.err.Error(), Message: "invalid value"}}, true
		}
	}
	return nil, false
}

// classifyErrorForLog returns the error type and code attached to request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return payload.Type, "internal_error"
	case len(payload.Errors) > 0:
		return payload.Type, payload.Errors[0].Code
	default:
		return payload.Type, err.Error()
	}
}
