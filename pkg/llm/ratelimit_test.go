package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
)

type stubClient struct {
	calls int
	err   error
}

func (s *stubClient) Complete(ctx context.Context, req llm.Request) (llm.Stream, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &stubStream{}, nil
}

type stubStream struct{}

func (s *stubStream) Recv() (llm.Chunk, error) { return llm.Chunk{Type: llm.ChunkStop}, nil }
func (s *stubStream) Close() error             { return nil }

type retryableErr struct{}

func (retryableErr) Error() string   { return "rate limited" }
func (retryableErr) Retryable() bool { return true }

func TestAdaptiveLimiterPassesThroughOnSuccess(t *testing.T) {
	stub := &stubClient{}
	limiter := llm.NewAdaptiveLimiter(stub, 60000, 60000)

	stream, err := limiter.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Text: "hi"}}})
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, 1, stub.calls)
}

func TestAdaptiveLimiterBacksOffOnRetryableError(t *testing.T) {
	stub := &stubClient{err: retryableErr{}}
	limiter := llm.NewAdaptiveLimiter(stub, 6000, 6000)

	_, err := limiter.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.True(t, llm.ClassifyError(err))
}

func TestClassifyErrorDefaultsToNonRetryable(t *testing.T) {
	assert.False(t, llm.ClassifyError(assertErr{}))
	assert.False(t, llm.ClassifyError(nil))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
