package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Error_KindMatching(t *testing.T) {
	err := Errorf(ErrKindDeletedObject, "object %s does not exist", "abc")
	require.ErrorIs(t, err, ErrDeletedObject)
	require.NotErrorIs(t, err, ErrStaleTransaction)
}

func Test_Error_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrKindInconsistent, cause, "while scanning")
	require.ErrorIs(t, err, ErrInconsistent)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "while scanning")
	require.Contains(t, err.Error(), "boom")
}

func Test_Error_WrappedThroughFmt(t *testing.T) {
	err := fmt.Errorf("outer: %w", Errorf(ErrKindSchemaMismatch, "inner"))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func Test_DeleteAction_Strings(t *testing.T) {
	for _, a := range []DeleteAction{DeleteNothing, DeleteException, DeleteUnreference, DeleteDelete} {
		parsed, err := ParseDeleteAction(a.String())
		require.NoError(t, err)
		require.Equal(t, a, parsed)
	}
	_, err := ParseDeleteAction("CASCADE")
	require.Error(t, err)
}
