package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func newTestProducer(writers map[string]*recordingWriter) *Producer {
	p := NewProducer([]string{"localhost:9092"}, "test", zap.NewNop())
	p.newWriter = func(topic string) messageWriter {
		w := &recordingWriter{}
		writers[topic] = w
		return w
	}
	return p
}

func TestProducerPublishEncodesJSON(t *testing.T) {
	writers := map[string]*recordingWriter{}
	p := newTestProducer(writers)

	msg := NewMessage("job-7", JobEvent{Type: TypeUpdateCompleted, JobID: 7, Status: "completed"})
	require.NoError(t, p.Publish(context.Background(), "market-data-jobs", msg))
	require.NoError(t, p.Publish(context.Background(), "market-data-jobs", msg))

	require.Len(t, writers, 1)
	w := writers["market-data-jobs"]
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "job-7", string(w.msgs[0].Key))
	assert.Equal(t, "event-id", w.msgs[0].Headers[0].Key)

	var decoded JobEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, int64(7), decoded.JobID)
	assert.Equal(t, TypeUpdateCompleted, decoded.Type)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducerPublishError(t *testing.T) {
	writers := map[string]*recordingWriter{}
	p := newTestProducer(writers)
	p.writers["down"] = &recordingWriter{err: errors.New("broker unavailable")}

	err := p.Publish(context.Background(), "down", NewMessage("k", "v"))
	assert.Error(t, err)
}
