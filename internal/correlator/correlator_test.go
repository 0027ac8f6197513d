// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package correlator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/riglink/internal/protocol"
)

func TestResolveDeliversPayload(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	fut := c.Track("req-1")

	payload := json.RawMessage(`{"type":"document_search_results","results":[]}`)
	require.True(t, c.Resolve("req-1", payload))

	got, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, string(payload), string(got))
	require.Equal(t, 0, c.Pending())
}

func TestRejectDeliversError(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	fut := c.Track("req-1")

	require.True(t, c.Reject("req-1", protocol.NewRemoteError("index unavailable")))

	_, err := fut.Wait(context.Background())
	require.True(t, protocol.IsRemote(err))
	require.Equal(t, "index unavailable", err.Error())
}

func TestTimeoutRemovesEntry(t *testing.T) {
	c := New(30*time.Millisecond, zerolog.Nop())
	fut := c.Track("req-1")

	_, err := fut.Wait(context.Background())
	require.True(t, protocol.IsTimeout(err))
	require.Equal(t, 0, c.Pending())
}

func TestLateResponseAfterTimeoutDoesNotDoubleResolve(t *testing.T) {
	c := New(20*time.Millisecond, zerolog.Nop())
	fut := c.Track("req-1")

	_, err := fut.Wait(context.Background())
	require.True(t, protocol.IsTimeout(err))

	// The late response is an anomaly: reported, not delivered.
	require.False(t, c.Resolve("req-1", json.RawMessage(`{}`)))

	// The future's outcome is unchanged.
	_, err, ok := fut.Result()
	require.True(t, ok)
	require.True(t, protocol.IsTimeout(err))
}

func TestSetTimeoutAppliesToNewEntries(t *testing.T) {
	c := New(time.Hour, zerolog.Nop())
	slow := c.Track("req-1")

	c.SetTimeout(20 * time.Millisecond)
	fast := c.Track("req-2")

	_, err := fast.Wait(context.Background())
	require.True(t, protocol.IsTimeout(err))

	// The request tracked before the change keeps its original window.
	_, _, ok := slow.Result()
	require.False(t, ok)
	require.True(t, c.Resolve("req-1", json.RawMessage(`{}`)))
}

func TestDuplicateResponseConsumedOnce(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	fut := c.Track("req-1")

	require.True(t, c.Resolve("req-1", json.RawMessage(`{"n":1}`)))
	require.False(t, c.Resolve("req-1", json.RawMessage(`{"n":2}`)))

	got, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, `{"n":1}`, string(got))
}

func TestResponseCancelsTimeoutTimer(t *testing.T) {
	c := New(30*time.Millisecond, zerolog.Nop())
	fut := c.Track("req-1")

	require.True(t, c.Resolve("req-1", json.RawMessage(`{}`)))

	// Wait past the window; the stale timer must not refire anything.
	time.Sleep(60 * time.Millisecond)
	_, err, ok := fut.Result()
	require.True(t, ok)
	require.NoError(t, err)
}

func TestFailAllOnConnectionLoss(t *testing.T) {
	c := New(time.Minute, zerolog.Nop())

	futs := make([]*Future, 5)
	for i := range futs {
		futs[i] = c.Track(string(rune('a' + i)))
	}
	require.Equal(t, 5, c.Pending())

	c.FailAll(protocol.ErrConnectionLost)
	require.Equal(t, 0, c.Pending())

	for _, fut := range futs {
		_, err := fut.Wait(context.Background())
		require.True(t, protocol.IsConnectionLost(err))
	}
}

func TestAbandonedFutureResolvesSafely(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	c.Track("req-1")
	// Nobody waits. Resolution must be safe regardless.
	require.True(t, c.Resolve("req-1", json.RawMessage(`{}`)))
}

func TestWaitHonorsContext(t *testing.T) {
	c := New(time.Minute, zerolog.Nop())
	fut := c.Track("req-1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := fut.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The entry is still pending; the caller abandoned only its wait.
	require.Equal(t, 1, c.Pending())
}

func TestConcurrentResolveAndExpire(t *testing.T) {
	c := New(10*time.Millisecond, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := string(rune('A' + i%26))
		fut := c.Track(id + string(rune('0'+i/26)))
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			// Race resolution against the timeout; exactly one wins.
			c.Resolve(id, json.RawMessage(`{}`))
			_, _ = fut.Wait(context.Background())
		}(id + string(rune('0'+i/26)))
	}
	wg.Wait()
	require.Equal(t, 0, c.Pending())
}
