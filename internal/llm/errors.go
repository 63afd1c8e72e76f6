package llm

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
)

// classifyHTTP maps a provider's HTTP answer to an apperr code. The body is
// kept only as metadata for logs.
func classifyHTTP(kind Kind, statusCode int, body string) error {
	var code apperr.Code
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		code = apperr.LLMAuthFailed
	case statusCode == http.StatusTooManyRequests:
		code = apperr.LLMRateLimited
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		code = apperr.Timeout
	case statusCode >= http.StatusInternalServerError:
		code = apperr.LLMAPIError
	default:
		code = apperr.LLMInvalidResponse
	}
	return apperr.Newf(code, "%s returned HTTP %d", kind, statusCode).
		WithMetadata("provider", string(kind)).
		WithMetadata("body", body)
}

// classifyTransport handles errors raised before any response arrived.
func classifyTransport(kind Kind, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrapf(err, apperr.Timeout, "%s request timed out", kind)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Wrapf(err, apperr.Unavailable, "%s unreachable", kind)
}

// classifyGRPC maps Vertex AI status codes.
func classifyGRPC(kind Kind, err error) error {
	var code apperr.Code
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		code = apperr.LLMAuthFailed
	case codes.ResourceExhausted:
		code = apperr.LLMRateLimited
	case codes.DeadlineExceeded:
		code = apperr.Timeout
	case codes.Unavailable:
		code = apperr.Unavailable
	case codes.InvalidArgument, codes.FailedPrecondition:
		code = apperr.LLMInvalidResponse
	case codes.Canceled:
		return err
	default:
		code = apperr.LLMAPIError
	}
	return apperr.Wrapf(err, code, "%s generate failed", kind).WithMetadata("provider", string(kind))
}
