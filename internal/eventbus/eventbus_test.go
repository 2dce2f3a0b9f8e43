package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachlink/rvcd/common"
)

func TestSubscribePublishDelivers(t *testing.T) {
	b := New(4, nil)
	sub := b.Subscribe(common.TopicAnomaly)
	defer sub.Unsubscribe()

	b.Publish(common.Event{Topic: common.TopicAnomaly, Payload: "x"})

	select {
	case ev := <-sub.Events():
		require.Equal(t, "x", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	b := New(2, nil)
	sub := b.Subscribe(common.TopicAnomaly)
	defer sub.Unsubscribe()

	b.Publish(common.Event{Topic: common.TopicAnomaly, Payload: 1})
	b.Publish(common.Event{Topic: common.TopicAnomaly, Payload: 2})
	b.Publish(common.Event{Topic: common.TopicAnomaly, Payload: 3}) // should drop payload 1

	first := <-sub.Events()
	second := <-sub.Events()
	require.Equal(t, 2, first.Payload)
	require.Equal(t, 3, second.Payload)
}

func TestOtherTopicsUnaffected(t *testing.T) {
	b := New(4, nil)
	subAnomaly := b.Subscribe(common.TopicAnomaly)
	subMissing := b.Subscribe(common.TopicMissingDGN)
	defer subAnomaly.Unsubscribe()
	defer subMissing.Unsubscribe()

	b.Publish(common.Event{Topic: common.TopicAnomaly, Payload: 1})
	require.Len(t, subMissing.Events(), 0)
}
