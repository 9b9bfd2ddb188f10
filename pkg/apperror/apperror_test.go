package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("name", "must not be empty"), http.StatusBadRequest},
		{"not found", NotFound("project", 7), http.StatusNotFound},
		{"forbidden", Forbidden(2, "delete project"), http.StatusForbidden},
		{"conflict", Conflict("email %s already exists", "a@b.c"), http.StatusConflict},
		{"wrapped not found", fmt.Errorf("load: %w", NotFound("task", 1)), http.StatusNotFound},
		{"transaction", WrapTx("delete project", errors.New("boom")), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestWrapTx_KeepsDomainErrors(t *testing.T) {
	nf := NotFound("project", 3)
	assert.Same(t, nf, WrapTx("op", nf))

	cause := errors.New("disk full")
	wrapped := WrapTx("op", cause)
	assert.True(t, IsTransaction(wrapped))
	assert.ErrorIs(t, wrapped, cause)

	assert.Same(t, wrapped, WrapTx("outer", wrapped))
	assert.NoError(t, WrapTx("op", nil))
}

func TestInvalidEnum_ListsAllowedValues(t *testing.T) {
	err := InvalidEnum("priority", "Urgent", []string{"Low", "Medium", "High"})
	assert.EqualError(t, err, `priority: invalid value "Urgent", allowed values: Low, Medium, High`)
}
