package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestFaultErrorAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	f := Wrap(cause, CategoryExternal, CodeVectorStoreUnavailable, "qdrant upsert")

	assert.Contains(t, f.Error(), "external/vector_store_unavailable")
	assert.Contains(t, f.Error(), "connection refused")
	assert.ErrorIs(t, f, cause)
}

func TestFaultIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("search: %w", Request(CodeQueryEmpty, "query is empty"))

	assert.ErrorIs(t, err, &Fault{Code: CodeQueryEmpty})
	assert.NotErrorIs(t, err, &Fault{Code: CodeQueryTooLong})
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CategoryExternal, CodeCacheUnavailable, "redis"))
}

func TestCategoryAndCodeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
		code     Code
	}{
		{
			name:     "fault passthrough",
			err:      Validation(CodeCyclicDependency, "a -> b -> a"),
			category: CategoryValidation,
			code:     CodeCyclicDependency,
		},
		{
			name:     "wrapped fault",
			err:      fmt.Errorf("load: %w", Validation(CodeDuplicateProjectID, "dup")),
			category: CategoryValidation,
			code:     CodeDuplicateProjectID,
		},
		{
			name:     "context cancelled",
			err:      context.Canceled,
			category: CategoryResource,
			code:     CodeCancelled,
		},
		{
			name:     "context deadline",
			err:      context.DeadlineExceeded,
			category: CategoryResource,
			code:     CodeDeadlineExceeded,
		},
		{
			name:     "plain error is internal",
			err:      errors.New("nil map write"),
			category: CategoryInternal,
			code:     CodeBug,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.category, CategoryOf(tt.err))
			assert.Equal(t, tt.code, CodeOf(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(status.Error(codes.Unavailable, "down")))
	assert.True(t, IsTransient(status.Error(codes.ResourceExhausted, "quota")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(status.Error(codes.InvalidArgument, "bad vector")))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("parse failure")))
	assert.False(t, IsTransient(nil))
}

func TestExternalFaultsRetryableByDefault(t *testing.T) {
	f := New(CategoryExternal, CodeEmbeddingUnavailable, "tei unreachable")
	assert.True(t, IsRetryable(f))

	v := Validation(CodeInvalidProjectID, "bad id")
	assert.False(t, IsRetryable(v))

	// Override sticks.
	assert.False(t, IsRetryable(f.WithRetryable(false)))
}

func TestWithCorrelationCopies(t *testing.T) {
	f := Request(CodeInvalidScope, "no such scope")
	tagged := f.WithCorrelation("corr-9")

	assert.Empty(t, f.CorrelationID)
	assert.Equal(t, "corr-9", tagged.CorrelationID)
	assert.Equal(t, f.Code, tagged.Code)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(Validation(CodeCyclicDependency, "cycle")))
	assert.Equal(t, 2, ExitCode(Request(CodeQueryEmpty, "empty")))
	assert.Equal(t, 1, ExitCode(New(CategoryExternal, CodeVectorStoreUnavailable, "down")))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}
