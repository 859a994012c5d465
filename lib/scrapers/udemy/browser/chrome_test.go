package browser

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStepContextRelaysCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runCtx, cleanup := stepContext(ctx, context.Background(), time.Minute)
	defer cleanup()

	require.NoError(t, runCtx.Err())
	cancel()
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("step context never observed the caller's cancellation")
	}
}

func TestStepContextAppliesDefaultDeadline(t *testing.T) {
	runCtx, cleanup := stepContext(context.Background(), context.Background(), 0)
	defer cleanup()

	deadline, ok := runCtx.Deadline()
	require.True(t, ok)
	require.InDelta(t, defaultStepTimeout.Seconds(), time.Until(deadline).Seconds(), 5)
}

func TestRequestLogTrimming(t *testing.T) {
	c := &Chrome{}
	for i := 0; i < requestLogLimit; i++ {
		c.recordRequest(CapturedRequest{
			Method: "GET",
			Url:    fmt.Sprintf("https://www.udemy.com/page/%d", i),
		})
	}
	mark := c.RequestMark()
	require.Equal(t, requestLogLimit, mark)

	c.recordRequest(CapturedRequest{
		Method: "POST",
		Url:    "https://www.udemy.com/after-mark",
	})

	// the trim dropped old entries but the mark still resolves to
	// everything recorded after it
	since := c.RequestsSince(mark)
	require.Len(t, since, 1)
	require.Equal(t, "https://www.udemy.com/after-mark", since[0].Url)

	require.Less(t, len(c.requests), requestLogLimit)
	require.Equal(t, requestLogLimit+1, c.RequestMark())

	// a mark below the retained window clamps to what is still held
	require.Len(t, c.RequestsSince(0), len(c.requests))
}
