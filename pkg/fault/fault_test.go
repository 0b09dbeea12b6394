package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{Validation("need %d guardians", 2), ErrValidation},
		{NotFound("request %q", "abc"), ErrNotFound},
		{Conflict("already approved"), ErrConflict},
		{Policy("time lock not elapsed"), ErrPolicy},
		{Unauthorized("callback invoker"), ErrUnauthorized},
		{External(errors.New("connection refused")), ErrExternal},
		{fmt.Errorf("approve: %w", Conflict("dup")), ErrConflict},
		{errors.New("disk full"), nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Kind(tc.err), tc.err.Error())
	}
}

func TestExternalKeepsCause(t *testing.T) {
	cause := errors.New("503 from identity service")
	err := External(cause)
	assert.ErrorIs(t, err, ErrExternal)
	assert.ErrorIs(t, err, cause)
}

func TestDetailInMessage(t *testing.T) {
	err := Validation("must provide at least %d guardians", 2)
	assert.Equal(t, "validation failed: must provide at least 2 guardians", err.Error())
}
