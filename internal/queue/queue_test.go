package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func sample() Event {
	return Event{
		Type:      TypeRedeemed,
		OwnerID:   "teacher-1",
		SubjectID: "math",
		TokenID:   "tok-1",
		StudentID: "s1",
		At:        time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, sample()))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample(), receive(t, ch))

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestInMemory_PublishHonoursContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Publish(ctx, sample()), context.Canceled)
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := NewRedisQueue(client, "")
	q.timeout = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, sample()))
	require.NoError(t, client.LPush(ctx, DefaultKey, "not json").Err())
	second := sample()
	second.Type = TypeTokenIssued
	second.StudentID = ""
	require.NoError(t, q.Publish(ctx, second))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample(), receive(t, ch))
	assert.Equal(t, second, receive(t, ch), "malformed entry is skipped")
}

func TestRedisQueue_StopsDuringBackoff(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	q := NewRedisQueue(client, "")
	q.timeout = 100 * time.Millisecond
	q.backoff = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	mr.Close()
	// Let the consumer hit the dead connection and enter its backoff.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer kept sleeping after cancel")
	}
}
