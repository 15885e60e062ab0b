package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessageShapes(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{"op message err", &AppError{Op: "A.B", Message: "failed", Err: cause}, "A.B: failed: boom"},
		{"op message", &AppError{Op: "A.B", Message: "failed"}, "A.B: failed"},
		{"op err", &AppError{Op: "A.B", Err: cause}, "A.B: boom"},
		{"message err", &AppError{Message: "failed", Err: cause}, "failed: boom"},
		{"message only", &AppError{Message: "failed"}, "failed"},
		{"err only", &AppError{Err: cause}, "boom"},
		{"empty", &AppError{}, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	base := E(CodeTransformFailure, "Accelerator.Accelerate", "ffmpeg exited", errors.New("exit status 1"))
	wrapped := fmt.Errorf("handling message: %w", base)

	assert.True(t, IsCode(wrapped, CodeTransformFailure))
	assert.False(t, IsCode(wrapped, CodeBackendFailure))
	assert.Equal(t, CodeTransformFailure, CodeOf(wrapped))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(E(CodeInvalidArgument, "", "", nil)))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(E(CodeBackendFailure, "", "", nil)))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(E(CodeTransformFailure, "", "", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(E(CodeUnavailable, "", "", nil)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, HTTPStatus(E(CodeTooLarge, "", "", nil)))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("root")
	err := E(CodeBackendFailure, "op", "msg", cause)
	require.ErrorIs(t, err, cause)
}

func TestSuffix(t *testing.T) {
	assert.Equal(t, "5551234567", Suffix("5511995551234567", 10))
	assert.Equal(t, "short", Suffix("short", 10))
	assert.Equal(t, "abc", Suffix("abc", 0))
}
