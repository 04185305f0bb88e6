package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(ErrStoreUnavailable))
	assert.True(t, IsTransient(ErrScoringTimeout))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: connection refused")))
	assert.False(t, IsTransient(ErrMissingSensorID))
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrDecodeFailed))
	assert.True(t, IsInvalid(ErrMissingSensorID))
	assert.True(t, IsInvalid(ErrInvalidValue))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "pipeline", "Ingest", "save"))

	err := Wrap(ErrSaveFailed, "pipeline", "Ingest", "save reading")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.Ingest: save reading failed")
	assert.True(t, Is(err, ErrSaveFailed))
}

func TestWrapClassified(t *testing.T) {
	err := WrapInvalid(ErrInvalidValue, "decoder", "DecodeLine", "value coercion")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))

	var ce *ClassifiedError
	assert.True(t, As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "decoder", ce.Component)

	err = WrapTransient(ErrConnectionLost, "transport", "run", "read loop")
	assert.True(t, IsTransient(err))

	err = WrapFatal(ErrMissingConfig, "config", "Load", "required fields")
	assert.True(t, IsFatal(err))
	assert.Equal(t, ErrorFatal, Classify(err))
}
