// Package composer turns the current selection and a question into a chat request.
package composer

import (
	"strings"

	"TableChat/internal/api"
	"TableChat/internal/apperr"
)

// Messages shown to the user
const (
	EmptySelectionMessage = "Please select at least one table"
	EmptyQuestionMessage  = "Please enter a question"
)

// Compose builds the request for question against the selected tables. Persistent names
// come first, then ephemeral ones, each in the order given.
func Compose(persistent, ephemeral []string, question string) (api.ChatRequest, error) {
	if len(persistent) == 0 && len(ephemeral) == 0 {
		return api.ChatRequest{}, apperr.Validation("tables", EmptySelectionMessage)
	}
	if strings.TrimSpace(question) == "" {
		return api.ChatRequest{}, apperr.Validation("message", EmptyQuestionMessage)
	}

	tables := make([]string, 0, len(persistent)+len(ephemeral))
	tables = append(tables, persistent...)
	tables = append(tables, ephemeral...)
	return api.ChatRequest{Message: question, Tables: tables}, nil
}
