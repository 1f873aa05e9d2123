package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataTable(t *testing.T) {
	want := map[Code]Metadata{
		CodeValidation:   {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true, EchoMessage: true},
		CodeUnauthorized: {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", EchoMessage: true},
		CodeForbidden:    {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied", EchoMessage: true},
		CodeNotFound:     {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", EchoMessage: true},
		CodeConflict:     {HTTPStatus: http.StatusConflict, Retryable: true, PublicMessage: "conflict detected", EchoMessage: true},
		CodeIdempotency:  {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", EchoMessage: true},
		CodeRateLimit:    {HTTPStatus: http.StatusTooManyRequests, Retryable: true, PublicMessage: "too many requests", EchoMessage: true},
		CodeInvalidState: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true, EchoMessage: true},
		CodeTransport:    {HTTPStatus: http.StatusBadGateway, Retryable: true, PublicMessage: "mail transport failure"},
		CodeInternal:     {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
		CodeDependency:   {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
	}
	require.Len(t, metadataByCode, len(want), "every code needs an expectation")

	for code, meta := range want {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, meta, MetadataFor(code))
		})
	}
}

func TestServerSideCodesNeverEchoMessages(t *testing.T) {
	for code, meta := range metadataByCode {
		if meta.HTTPStatus >= http.StatusInternalServerError {
			assert.False(t, meta.EchoMessage, "%s would leak internal messages", code)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	assert.Equal(t, metadataByCode[CodeInternal], MetadataFor("SOMETHING_UNKNOWN"))
}

func TestErrorCarriesCodeMessageAndDetails(t *testing.T) {
	err := New(CodeValidation, "missing title")
	assert.Equal(t, CodeValidation, err.Code())
	assert.Equal(t, "missing title", err.Message())
	assert.Nil(t, err.Details())

	err.WithDetails(map[string]any{"field": "title"})
	assert.Equal(t, map[string]any{"field": "title"}, err.Details())
	assert.Equal(t, "VALIDATION_ERROR: missing title", err.Error())
}

func TestNilErrorIsSafe(t *testing.T) {
	var err *Error
	assert.Equal(t, CodeInternal, err.Code())
	assert.Empty(t, err.Message())
	assert.Nil(t, err.WithDetails("x"))
	assert.NoError(t, err.Unwrap())
}

func TestWrapKeepsCauseOutOfMessage(t *testing.T) {
	cause := stdErrors.New("pq: connection refused")
	err := Wrap(CodeDependency, cause, "loading contract")

	assert.ErrorIs(t, err, cause)
	assert.NotContains(t, err.Error(), "connection refused")
	assert.Nil(t, Wrap(CodeNotFound, nil, "contract not found").Unwrap())
}

func TestClassificationThroughFmtWrapping(t *testing.T) {
	conflict := fmt.Errorf("sign: %w", Wrap(CodeConflict, stdErrors.New("version mismatch"), "contract modified concurrently"))

	require.NotNil(t, As(conflict))
	assert.True(t, IsCode(conflict, CodeConflict))
	assert.False(t, IsCode(conflict, CodeNotFound))
	assert.True(t, Retryable(conflict))

	assert.False(t, Retryable(New(CodeInvalidState, "contract is signed")))
	assert.False(t, Retryable(stdErrors.New("plain")))
	assert.False(t, IsCode(nil, CodeInternal))
	assert.Nil(t, As(nil))
	assert.Nil(t, As(stdErrors.New("plain")))
}

func TestNewfFormats(t *testing.T) {
	err := Newf(CodeValidation, "%s email is invalid", "second_party")
	assert.Equal(t, "second_party email is invalid", err.Message())
}
