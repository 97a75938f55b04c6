package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careverify/pkg/platform/circuit"
)

type recordingSink struct {
	got []Notification
	err error
}

func (s *recordingSink) Notify(_ context.Context, n Notification) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, n)
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink_KeysByOrg(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w}

	err := sink.Notify(context.Background(), Notification{
		Event:     EventSLABreached,
		Recipient: Recipient{OrgID: "org-1"},
		ClaimID:   "claim-1",
		Message:   "SLA breached",
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "org-1", string(w.msgs[0].Key))

	var decoded Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, EventSLABreached, decoded.Event)
	assert.Equal(t, "claim-1", decoded.ClaimID)
}

func TestFailoverSink(t *testing.T) {
	ctx := context.Background()
	primary := &recordingSink{err: errors.New("broker down")}
	secondary := &recordingSink{}
	breaker := circuit.New("notify", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
	sink := NewFailoverSink(primary, secondary, breaker, nil)

	// below the threshold the error surfaces to the caller
	assert.Error(t, sink.Notify(ctx, Notification{Event: EventRoutingHeld}))
	assert.Empty(t, secondary.got)

	// threshold reached: the breaker opens and the fallback delivers
	assert.NoError(t, sink.Notify(ctx, Notification{Event: EventRoutingHeld}))
	assert.Len(t, secondary.got, 1)
	assert.True(t, breaker.IsOpen())

	primary.err = nil
	assert.NoError(t, sink.Notify(ctx, Notification{Event: EventClaimDecided}))
	assert.False(t, breaker.IsOpen())
	assert.Len(t, primary.got, 1)
}
