package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", Validation("tables", "Please select at least one table"), "Please select at least one table"},
		{"wrapped validation", fmt.Errorf("compose: %w", Validation("name", "Table name is required")), "Table name is required"},
		{"transport with detail", &TransportError{Op: "chat", StatusCode: 400, Detail: "bad sql"}, "bad sql"},
		{"transport without detail", &TransportError{Op: "chat", Err: errors.New("connection refused")}, GenericFailure},
		{"plain error", errors.New("boom"), GenericFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err, GenericFailure))
		})
	}
}

func TestTransportError_Error(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &TransportError{Op: "list_tables", Err: cause}

	assert.Equal(t, "[list_tables] dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[chat] 404: missing", (&TransportError{Op: "chat", StatusCode: 404, Detail: "missing"}).Error())
	assert.Equal(t, "[chat] request failed with status 502", (&TransportError{Op: "chat", StatusCode: 502}).Error())
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(Validation("file", "Please select a file")))
	assert.False(t, IsValidation(&TransportError{Op: "upload"}))
}
