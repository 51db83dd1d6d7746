package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"paper-core/pkg/db"
)

func TestFromClassifies(t *testing.T) {
	v := Validation(CodeInvalidQuantity, "quantity", "bad")
	assert.Same(t, v, From(fmt.Errorf("wrapped: %w", v)))

	c := From(fmt.Errorf("update: %w", db.ErrConflict))
	assert.Equal(t, KindConflict, c.Kind)
	assert.ErrorIs(t, c, db.ErrConflict)

	tr := From(errors.New("disk full"))
	assert.Equal(t, KindTransient, tr.Kind)
	assert.Equal(t, CodeStorageUnavailable, tr.Code)

	assert.Nil(t, From(nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(KindBusinessRule))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(KindTransient))
}
