package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Resolve("dingtalk")
	assert.False(t, ok)

	r.Register("dingtalk", HandlerFunc(func(ctx context.Context, dest, content string) error {
		return nil
	}))

	h, ok := r.Resolve("dingtalk")
	require.True(t, ok)
	assert.NoError(t, h.Deliver(context.Background(), "d", "c"))
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := NewRegistry()

	r.Register("feishu", HandlerFunc(func(ctx context.Context, dest, content string) error {
		return errors.New("old handler")
	}))
	r.Register("feishu", HandlerFunc(func(ctx context.Context, dest, content string) error {
		return nil
	}))

	h, ok := r.Resolve("feishu")
	require.True(t, ok)
	assert.NoError(t, h.Deliver(context.Background(), "d", "c"))
}

func TestRegistryTypes(t *testing.T) {
	r := NewRegistry()
	r.Register("a", HandlerFunc(func(ctx context.Context, dest, content string) error { return nil }))
	r.Register("b", HandlerFunc(func(ctx context.Context, dest, content string) error { return nil }))

	assert.ElementsMatch(t, []string{"a", "b"}, r.Types())
}
