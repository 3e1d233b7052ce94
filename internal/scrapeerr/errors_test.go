package scrapeerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Categorize(nil, "unit", "op"))
	})

	t.Run("playwright timeout message becomes a timeout", func(t *testing.T) {
		err := Categorize(errors.New("Timeout 30000ms exceeded"), "page 3", "navigate")
		assert.Equal(t, Timeout, err.Kind)
		assert.True(t, err.Kind.Retryable())
	})

	t.Run("deadline exceeded becomes a timeout", func(t *testing.T) {
		err := Categorize(fmt.Errorf("wrapped: %w", errors.New("context deadline exceeded")), "u", "op")
		assert.Equal(t, Timeout, err.Kind)
	})

	t.Run("cancellation is detected", func(t *testing.T) {
		err := Categorize(context.Canceled, "u", "op")
		assert.Equal(t, Cancelled, err.Kind)
	})

	t.Run("other errors are navigation failures", func(t *testing.T) {
		err := Categorize(errors.New("net::ERR_CONNECTION_REFUSED"), "u", "navigate")
		assert.Equal(t, Navigation, err.Kind)
		assert.False(t, err.Kind.Retryable())
	})

	t.Run("existing categorized errors pass through", func(t *testing.T) {
		orig := NewAuth("sign-in", "submit", errors.New("bad credentials"))
		wrapped := fmt.Errorf("run failed: %w", orig)

		err := Categorize(wrapped, "other", "other op")
		assert.Equal(t, Auth, err.Kind)
		assert.Equal(t, "sign-in", err.Unit)
	})
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Store, KindOf(NewStore("url", "upsert", errors.New("down"))))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", NewTimeout("page", "wait", errors.New("slow")))
	assert.Equal(t, Timeout, KindOf(wrapped))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(NewAuth("sign-in", "submit", nil)))
	assert.True(t, IsFatal(NewStore("url", "upsert", nil)))
	assert.False(t, IsFatal(NewTimeout("page", "wait", nil)))
	assert.False(t, IsFatal(New(Term, "term", "crawl", nil)))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(NewTimeout("p", "wait", nil)))
	assert.True(t, IsTimeout(errors.New("Timeout 5000ms exceeded")))
	assert.False(t, IsTimeout(New(Navigation, "p", "navigate", nil)))
	assert.False(t, IsTimeout(nil))
}

func TestError_Message(t *testing.T) {
	err := New(Timeout, "page 2", "navigate", errors.New("slow network"))
	require.EqualError(t, err, "timeout error during navigate on page 2: slow network")

	var target *Error
	assert.True(t, errors.As(fmt.Errorf("w: %w", err), &target))
	assert.Equal(t, errors.New("slow network").Error(), target.Unwrap().Error())
}
