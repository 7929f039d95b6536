package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/devstreak/sync/internal/observability"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrorCode classifies an HTTPError for clients.
type ErrorCode = string

const (
	ErrorCodeUnexpectedFailure     ErrorCode = "unexpected_failure"
	ErrorCodeValidationFailed      ErrorCode = "validation_failed"
	ErrorCodeBadOAuthState         ErrorCode = "bad_oauth_state"
	ErrorCodeBadOAuthCallback      ErrorCode = "bad_oauth_callback"
	ErrorCodeOAuthProviderNotFound ErrorCode = "oauth_provider_not_found"
	ErrorCodeConnectionNotFound    ErrorCode = "connection_not_found"
	ErrorCodeSessionNotFound       ErrorCode = "session_not_found"
	ErrorCodeAccountConflict       ErrorCode = "account_already_linked"
	ErrorCodeGenerationConflict    ErrorCode = "generation_conflict"
)

var oauthErrorMap = map[int]string{
	http.StatusBadRequest:          "invalid_request",
	http.StatusUnauthorized:        "unauthorized_client",
	http.StatusForbidden:           "access_denied",
	http.StatusNotFound:            "invalid_request",
	http.StatusConflict:            "access_denied",
	http.StatusInternalServerError: "server_error",
	http.StatusServiceUnavailable:  "temporarily_unavailable",
}

// OAuthError is the JSON handler for OAuth2 error responses
type OAuthError struct {
	Err             string `json:"error"`
	Description     string `json:"error_description,omitempty"`
	InternalError   error  `json:"-"`
	InternalMessage string `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.InternalMessage != "" {
		return e.InternalMessage
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Description)
}

// WithInternalError adds internal error information to the error
func (e *OAuthError) WithInternalError(err error) *OAuthError {
	e.InternalError = err
	return e
}

// Cause returns the root cause error
func (e *OAuthError) Cause() error {
	if e.InternalError != nil {
		return e.InternalError
	}
	return e
}

func oauthError(err string, description string) *OAuthError {
	return &OAuthError{Err: err, Description: description}
}

// HTTPError is an error with a message and an HTTP status code.
type HTTPError struct {
	HTTPStatus      int       `json:"code"`
	ErrorCode       ErrorCode `json:"error_code,omitempty"`
	Message         string    `json:"msg"`
	InternalError   error     `json:"-"`
	InternalMessage string    `json:"-"`
}

func (e *HTTPError) Error() string {
	if e.InternalMessage != "" {
		return e.InternalMessage
	}
	return fmt.Sprintf("%d: %s", e.HTTPStatus, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return e.Error() == target.Error()
}

// Cause returns the root cause error
func (e *HTTPError) Cause() error {
	if e.InternalError != nil {
		return e.InternalError
	}
	return e
}

// WithInternalError adds internal error information to the error
func (e *HTTPError) WithInternalError(err error) *HTTPError {
	e.InternalError = err
	return e
}

// WithInternalMessage adds internal message information to the error
func (e *HTTPError) WithInternalMessage(fmtString string, args ...interface{}) *HTTPError {
	e.InternalMessage = fmt.Sprintf(fmtString, args...)
	return e
}

func httpError(status int, errorCode ErrorCode, fmtString string, args ...interface{}) *HTTPError {
	return &HTTPError{
		HTTPStatus: status,
		ErrorCode:  errorCode,
		Message:    fmt.Sprintf(fmtString, args...),
	}
}

func badRequestError(errorCode ErrorCode, fmtString string, args ...interface{}) *HTTPError {
	return httpError(http.StatusBadRequest, errorCode, fmtString, args...)
}

func forbiddenError(errorCode ErrorCode, fmtString string, args ...interface{}) *HTTPError {
	return httpError(http.StatusForbidden, errorCode, fmtString, args...)
}

func notFoundError(errorCode ErrorCode, fmtString string, args ...interface{}) *HTTPError {
	return httpError(http.StatusNotFound, errorCode, fmtString, args...)
}

func conflictError(errorCode ErrorCode, fmtString string, args ...interface{}) *HTTPError {
	return httpError(http.StatusConflict, errorCode, fmtString, args...)
}

func internalServerError(fmtString string, args ...interface{}) *HTTPError {
	return httpError(http.StatusInternalServerError, ErrorCodeUnexpectedFailure, fmtString, args...)
}

// ErrorCause is an error interface that contains the method Cause() for returning root cause errors
type ErrorCause interface {
	Cause() error
}

// HandleResponseError writes err to w in the taxonomy above. Request-path
// errors are translated to HTTP status + message at this boundary only.
func HandleResponseError(err error, w http.ResponseWriter, r *http.Request) {
	log := observability.GetLogEntry(r)

	switch e := err.(type) {
	case *HTTPError:
		if e.HTTPStatus >= http.StatusInternalServerError {
			log.WithError(e.Cause()).Error(e.Error())
		} else {
			log.WithError(e.Cause()).Info(e.Error())
		}
		sendJSON(w, e.HTTPStatus, e)
	case *OAuthError:
		log.WithError(e.Cause()).Info(e.Error())
		sendJSON(w, http.StatusBadRequest, e)
	case ErrorCause:
		HandleResponseError(e.Cause(), w, r)
	default:
		log.WithError(e).Error("Unhandled server error")
		resp := &HTTPError{
			HTTPStatus: http.StatusInternalServerError,
			ErrorCode:  ErrorCodeUnexpectedFailure,
			Message:    "Unexpected failure, please check server logs for more information",
		}
		sendJSON(w, http.StatusInternalServerError, resp)
	}
}

func sendJSON(w http.ResponseWriter, status int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	b, err := json.Marshal(obj)
	if err != nil {
		logrus.WithError(err).Error("Error encoding json response")
		b = []byte(`{"code":500,"msg":"Error encoding json response"}`)
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		logrus.WithError(err).Error("Error writing http response")
	}
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				logEntry := observability.GetLogEntry(r)
				if logEntry != nil {
					logEntry.Error(fmt.Sprintf("request panic: %v", rvr), string(debug.Stack()))
				} else {
					fmt.Fprintf(logrus.StandardLogger().Out, "request panic: %v\n%s", rvr, debug.Stack())
				}

				se := internalServerError("Internal Server Error").WithInternalError(errors.Errorf("%v", rvr))
				HandleResponseError(se, w, r)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
