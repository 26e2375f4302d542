package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError_PassesThroughWrapped(t *testing.T) {
	base := NewConflict("ticket exists", map[string]any{"external_id": "EXT-1"})
	wrapped := fmt.Errorf("create: %w", base)

	de := ToDomainError(wrapped)
	require.NotNil(t, de)
	assert.Equal(t, CodeConflict, de.Code)
	assert.Equal(t, http.StatusConflict, de.HTTPStatus)
	assert.Equal(t, "EXT-1", de.Details["external_id"])
}

func TestToDomainError_UnknownBecomesInternal(t *testing.T) {
	de := ToDomainError(errors.New("boom"))
	require.NotNil(t, de)
	assert.Equal(t, CodeInternal, de.Code)
	assert.Equal(t, http.StatusInternalServerError, de.HTTPStatus)
	assert.Nil(t, ToDomainError(nil))
}

func TestIsCode(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("cycle: %w", NewPersistenceError("commit cycle", cause))

	assert.True(t, IsCode(err, CodePersistence))
	assert.False(t, IsCode(err, CodeConfig))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}
