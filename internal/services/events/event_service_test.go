package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/regula/internal/interfaces"
)

func TestPublishReachesSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var mu sync.Mutex
	var received []interfaces.Event
	done := make(chan struct{}, 2)

	handler := func(_ context.Context, event interfaces.Event) error {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}

	require.NoError(t, svc.Subscribe(interfaces.EventIngestStarted, handler))
	require.NoError(t, svc.Subscribe(interfaces.EventIngestStarted, handler))
	require.NoError(t, svc.Subscribe(interfaces.EventIngestFailed, handler))

	err := svc.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventIngestStarted,
		Payload: "src_1",
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler was not invoked")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, interfaces.EventIngestStarted, received[0].Type)
	assert.Equal(t, "src_1", received[0].Payload)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventSourceExpired,
	}))
}

func TestHandlerErrorNeverPropagates(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	done := make(chan struct{})
	require.NoError(t, svc.Subscribe(interfaces.EventIngestFailed, func(context.Context, interfaces.Event) error {
		defer close(done)
		return errors.New("handler blew up")
	}))

	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventIngestFailed,
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}
