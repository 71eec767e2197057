package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type TestPayload struct {
	ID    uint32
	Error uint32
}

func TestQueue(t *testing.T) {
	queue := NewQueue[TestPayload](DefaultConfig())

	ctx := context.Background()
	payload := TestPayload{ID: 5, Error: 1}

	err := queue.Publish(ctx, &payload)
	assert.NoError(t, err)
	assert.Equal(t, 1, queue.Size())

	message, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, message)
	assert.Equal(t, 0, queue.Size())

	msgData := message.T()
	assert.Equal(t, payload.ID, msgData.ID)
	assert.Equal(t, payload.Error, msgData.Error)

	err = message.Ack()
	assert.NoError(t, err)

	// Test double ack (should error)
	err = message.Ack()
	assert.Error(t, err)
}

func TestQueueOfferPoll(t *testing.T) {
	queue := NewQueue[TestPayload](Config{QueueBuffer: 2})

	assert.True(t, queue.Offer(&TestPayload{ID: 1}))
	assert.True(t, queue.Offer(&TestPayload{ID: 2}))
	assert.False(t, queue.Offer(&TestPayload{ID: 3}))
	assert.EqualValues(t, 1, queue.Dropped())
	assert.Equal(t, 2, queue.Cap())

	message, ok := queue.Poll()
	assert.True(t, ok)
	assert.EqualValues(t, 1, message.T().ID)

	assert.Equal(t, []TestPayload{{ID: 2}}, queue.Drain())
	_, ok = queue.Poll()
	assert.False(t, ok)
}

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue[TestPayload](DefaultConfig())

	ctx := context.Background()
	concurrency := 10
	messagesPerProducer := 10

	var wg sync.WaitGroup
	wg.Add(concurrency * 2) // producers + consumers

	var consumedCount int
	var consumedMu sync.Mutex

	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < messagesPerProducer; j++ {
				message, err := queue.Consume(ctx)
				if err != nil {
					t.Errorf("Error consuming: %v", err)
					continue
				}
				assert.NoError(t, message.Ack())
				consumedMu.Lock()
				consumedCount++
				consumedMu.Unlock()
			}
		}()
	}

	for i := 0; i < concurrency; i++ {
		go func(producerID int) {
			defer wg.Done()
			for j := 0; j < messagesPerProducer; j++ {
				payload := TestPayload{ID: uint32(producerID*messagesPerProducer + j)}
				if err := queue.Publish(ctx, &payload); err != nil {
					t.Errorf("Error publishing: %v", err)
				}
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out")
	}

	assert.Equal(t, concurrency*messagesPerProducer, consumedCount)
	assert.Equal(t, 0, queue.Size())
}

func TestQueueContextCancellation(t *testing.T) {
	queue := NewQueue[TestPayload](DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := TestPayload{ID: 1}
	err := queue.Publish(ctx, &payload)
	assert.Error(t, err)

	ctxWithTimeout, cancelTimeout := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelTimeout()

	// Consume should return with an error when context is done
	_, err = queue.Consume(ctxWithTimeout)
	assert.Error(t, err)

	// Ensure queue is still usable after context cancellation
	emptyCtx := context.Background()
	err = queue.Publish(emptyCtx, &payload)
	assert.NoError(t, err)

	message, err := queue.Consume(emptyCtx)
	assert.NoError(t, err)
	assert.NotNil(t, message)
}
