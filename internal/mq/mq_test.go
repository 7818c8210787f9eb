package mq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/portal/config"
	"github.com/taxdesk/portal/types"
)

type fakeBackend struct {
	published []Message
	channels  []string
}

func (f *fakeBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	f.channels = append(f.channels, channel)
	f.published = append(f.published, Message{ID: "m1", Data: data, Attributes: attrs})
	return "m1", nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	for _, msg := range f.published {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func TestRunEventsRoundTrip(t *testing.T) {
	backend := &fakeBackend{}
	events := NewRunEvents(backend, "taxdesk.runs")
	ctx := context.Background()

	ev := types.RunEvent{
		ID:         "r1",
		ModuleID:   "gstr1_odoo",
		Username:   "user",
		Status:     types.RunSuccess,
		FinishedAt: time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC),
	}
	id, err := events.Publish(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	assert.Equal(t, []string{"taxdesk.runs"}, backend.channels)
	assert.Equal(t, "gstr1_odoo", backend.published[0].Attributes["module"])
	assert.Equal(t, "workflow.run.completed", backend.published[0].Attributes["event"])

	backend.published = append(backend.published, Message{Data: []byte("not json")})

	var got []types.RunEvent
	require.NoError(t, events.Consume(ctx, func(_ context.Context, ev types.RunEvent) error {
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, ev, got[0])
}

func TestRunEventsDisabled(t *testing.T) {
	var events *RunEvents
	assert.False(t, events.Enabled())
	id, err := events.Publish(context.Background(), types.RunEvent{})
	assert.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, events.Close())

	assert.Error(t, NewRunEvents(nil, "x").Consume(context.Background(), nil))
}

func TestOpenWithoutBroker(t *testing.T) {
	events, err := Open(context.Background(), config.MQConfig{Backend: config.MQNone, Channel: "taxdesk.runs"})
	require.NoError(t, err)
	assert.False(t, events.Enabled())

	id, err := events.Publish(context.Background(), types.RunEvent{ID: "r1"})
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = Open(context.Background(), config.MQConfig{Backend: "kafka"})
	assert.Error(t, err)
}
