package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNewTransientEngineError_MatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("engine timeout")
	err := NewTransientEngineError("text_recognition", cause)

	assert.ErrorIs(t, err, ErrTransientEngine)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrPermanentEngine)
	assert.True(t, IsRetryable(err))
}

func TestNewPermanentEngineError_NotRetryable(t *testing.T) {
	err := NewPermanentEngineError("text_recognition", errors.New("corrupt image"))
	assert.ErrorIs(t, err, ErrPermanentEngine)
	assert.False(t, IsRetryable(err))
}

func TestNewSchemaInvalidError_Retryable(t *testing.T) {
	err := NewSchemaInvalidError("understanding", "missing summary")
	assert.ErrorIs(t, err, ErrSchemaInvalid)
	assert.True(t, IsRetryable(err))
}

func TestKindError_DoesNotDoubleWrap(t *testing.T) {
	inner := NewTransientEngineError("ocr", errors.New("boom"))
	outer := NewTransientEngineError("ocr", inner)
	assert.ErrorIs(t, outer, ErrTransientEngine)
	assert.Same(t, inner, outer.(*AppError).Cause)
	assert.Contains(t, FailureReason(outer), "boom")
}

func TestFailureReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"permanent", NewPermanentEngineError("text_recognition", errors.New("corrupt image")), "PermanentEngineError: text_recognition: corrupt image"},
		{"persistence", NewPersistenceError("commit_document", errors.New("conn reset")), "PersistenceError: commit_document: conn reset"},
		{"wrapped", fmt.Errorf("page 2: %w", NewPermanentEngineError("text_recognition", errors.New("bad"))), "PermanentEngineError: text_recognition: bad"},
		{"plain", errors.New("plain"), "plain"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FailureReason(tc.err))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, codes.OK, Code(nil))
	assert.Equal(t, codes.AlreadyExists, Code(fmt.Errorf("enqueue: %w", ErrAlreadyActive)))
	assert.Equal(t, codes.FailedPrecondition, Code(ErrInvalidState))
	assert.Equal(t, codes.NotFound, Code(ErrNotFound))
	assert.Equal(t, codes.InvalidArgument, Code(ErrInvalidInput))
	assert.Equal(t, codes.Internal, Code(errors.New("x")))
}

func TestToStatus(t *testing.T) {
	err := ToStatus(ErrAlreadyActive)
	st, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Equal(t, codes.AlreadyExists, st.Code())
	assert.NoError(t, ToStatus(nil))
}

func TestParseDocumentID(t *testing.T) {
	id, err := ParseDocumentID(" 6f1c2a8e-3d0a-4c55-9f7e-0b9a1c2d3e4f ")
	assert.NoError(t, err)
	assert.Equal(t, "6f1c2a8e-3d0a-4c55-9f7e-0b9a1c2d3e4f", id.String())

	_, err = ParseDocumentID("not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, ErrValidation)
}
