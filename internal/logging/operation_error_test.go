package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOperationErrorNil(t *testing.T) {
	assert.NoError(t, NewOperationError("op", "req", nil))
}

func TestNewOperationErrorWrapsAndUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("cache.set", "req-1", base)

	require.Error(t, err)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "cache.set (request_id=req-1): boom", err.Error())

	op, ok := OperationOf(err)
	require.True(t, ok)
	assert.Equal(t, "cache.set", op)
}

func TestNewOperationErrorDoesNotDoubleWrap(t *testing.T) {
	first := NewOperationError("repo.save", "", errors.New("down"))
	second := NewOperationError("repo.save", "", first)
	assert.Same(t, first, second)
	assert.Equal(t, "repo.save: down", second.Error())
}

func TestNewLoggerUnknownLevelFallsBack(t *testing.T) {
	logger, err := NewLogger("chatty")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(0))
}
