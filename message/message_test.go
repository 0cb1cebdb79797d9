package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseJSON(t *testing.T) {
	resp := NewFailure(7, Wrap(CodeInvocationFailed, "Calculator.Div", errors.New("division by zero")))

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, uint64(7), decoded.CallID)
	assert.False(t, decoded.OK())
	require.NotNil(t, decoded.Error.Cause)
	assert.Equal(t, "division by zero", decoded.Error.Cause.Message)
}

func TestErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("call failed: %w", NewError(CodeServiceNotFound, "service not found: Calculator"))

	assert.True(t, errors.Is(err, ErrServiceNotFound))
	assert.False(t, errors.Is(err, ErrMethodNotFound))
}

func TestErrorString(t *testing.T) {
	e := Wrap(CodeInvocationFailed, "Calculator.Div", NewError(CodeBadRequest, "b must not be zero"))
	assert.Equal(t, "invocation_failed Calculator.Div: bad_request b must not be zero", e.Error())
}

func TestFromErrorKeepsStructuredError(t *testing.T) {
	orig := NewError(CodeRateLimited, "slow down")
	assert.Same(t, orig, FromError(fmt.Errorf("wrapped: %w", orig)))

	plain := FromError(errors.New("boom"))
	assert.Equal(t, CodeInvocationFailed, plain.Code)
	assert.Equal(t, "boom", plain.Message)

	assert.Nil(t, FromError(nil))
}
