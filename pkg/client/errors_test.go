package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisErrorIs(t *testing.T) {
	err := &AnalysisError{Kind: Unauthorized, Op: "analyze", StatusCode: 401, Err: errors.New("invalid key")}

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrMalformed)

	wrapped := fmt.Errorf("describe cat.jpg: %w", err)
	assert.ErrorIs(t, wrapped, ErrUnauthorized)
	assert.NotErrorIs(t, wrapped, ErrUnsupported)

	cause := errors.New("connection refused")
	assert.ErrorIs(t, NewError(Unreachable, "ocr", cause), cause)
	assert.NotErrorIs(t, cause, ErrUnreachable)
}

func TestAnalysisErrorMessage(t *testing.T) {
	err := &AnalysisError{Kind: Unsupported, Op: "analyze", StatusCode: 400, Code: "InvalidImageSize", Err: errors.New("image too small")}
	assert.Equal(t, "analyze: Unsupported (status 400) InvalidImageSize: image too small", err.Error())
	assert.Equal(t, "Malformed", NewError(Malformed, "", nil).Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Malformed, KindOf(NewError(Malformed, "analyze", nil)))
	assert.Equal(t, Unsupported, KindOf(fmt.Errorf("wrapped: %w", NewError(Unsupported, "ocr", nil))))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestAsAnalysisError(t *testing.T) {
	assert.Nil(t, AsAnalysisError("analyze", nil))

	original := NewError(Unauthorized, "ocr", errors.New("missing key"))
	assert.Same(t, original, AsAnalysisError("analyze", fmt.Errorf("x: %w", original)))

	got := AsAnalysisError("analyze", context.DeadlineExceeded)
	require.NotNil(t, got)
	assert.Equal(t, Unreachable, got.Kind)
	assert.Equal(t, "analyze", got.Op)
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

func TestKindForStatus(t *testing.T) {
	tests := map[int]ErrorKind{
		http.StatusUnauthorized:          Unauthorized,
		http.StatusForbidden:             Unauthorized,
		http.StatusBadRequest:            Unsupported,
		http.StatusRequestEntityTooLarge: Unsupported,
		http.StatusUnsupportedMediaType:  Unsupported,
		http.StatusNotFound:              Unreachable,
		http.StatusTooManyRequests:       Unreachable,
		http.StatusInternalServerError:   Unreachable,
		http.StatusServiceUnavailable:    Unreachable,
	}
	for status, want := range tests {
		assert.Equal(t, want, KindForStatus(status), "status %d", status)
	}
}

func TestKindMarshalText(t *testing.T) {
	b, err := Unreachable.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Unreachable", string(b))
	assert.Equal(t, "Unknown", ErrorKind(42).String())
}
