package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersPayload(n int) types.TenantEventPayload {
	users := map[string]types.UserInfo{}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		users[id] = types.UserInfo{ID: id}
	}
	return types.TenantEventPayload{UsersUpdated: &types.AllUsers{Users: users}}
}

func recv(t *testing.T, sub *Subscription) *Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerDeliversInOrder(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe(nil)
	for i := 1; i <= 5; i++ {
		b.Publish("example.org", usersPayload(i))
	}
	for i := 1; i <= 5; i++ {
		ev := recv(t, sub)
		assert.Equal(t, "example.org", ev.Tenant)
		assert.Len(t, ev.Payload.UsersUpdated.Users, i)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestBrokerFilter(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	scoped := b.Subscribe(func(tenant string) bool { return tenant == "a.example" })
	all := b.Subscribe(nil)
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish("b.example", usersPayload(1))
	b.Publish("a.example", usersPayload(2))

	assert.Equal(t, "a.example", recv(t, scoped).Tenant)
	assert.Equal(t, "b.example", recv(t, all).Tenant)
	assert.Equal(t, "a.example", recv(t, all).Tenant)
}

func TestSubscriberSkipsEventsQueuedBeforeIt(t *testing.T) {
	b := NewBroker()
	defer b.Stop()

	// queued while the distribution loop is not running yet
	stale := b.Publish("example.org", usersPayload(1))
	sub := b.Subscribe(nil)
	fresh := b.Publish("example.org", usersPayload(2))
	assert.Less(t, stale.Seq, fresh.Seq)

	b.Start()
	ev := recv(t, sub)
	assert.Equal(t, fresh.ID, ev.ID)
	assert.Len(t, ev.Payload.UsersUpdated.Users, 2)

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %s", ev.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe(nil)
	for i := 0; i < subscriberSize+1; i++ {
		b.Publish("example.org", usersPayload(1))
	}

	select {
	case <-slow.Dropped:
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
	assert.Equal(t, 0, b.SubscriberCount())

	n := 0
	for range slow.C {
		n++
	}
	assert.Equal(t, subscriberSize, n)
}

func TestUnsubscribeAndStop(t *testing.T) {
	b := NewBroker()
	b.Start()

	sub := b.Subscribe(nil)
	b.Unsubscribe(sub)
	_, ok := <-sub.C
	assert.False(t, ok)
	b.Unsubscribe(sub)

	other := b.Subscribe(nil)
	b.Stop()
	_, ok = <-other.C
	assert.False(t, ok)

	late := b.Subscribe(nil)
	_, ok = <-late.C
	assert.False(t, ok)
}

func TestEventMessage(t *testing.T) {
	ev := &Event{Tenant: "example.org", Payload: types.TenantEventPayload{RevisionChanged: &types.Pak{ID: "r2"}}}
	msg, err := ev.Message()
	require.NoError(t, err)

	var decoded types.MomEvent
	require.NoError(t, json.Unmarshal(msg, &decoded))
	require.NotNil(t, decoded.TenantEvent)
	assert.Equal(t, "example.org", decoded.TenantEvent.TenantName)
	assert.Equal(t, "r2", decoded.TenantEvent.Payload.RevisionChanged.ID)

	again, err := ev.Message()
	require.NoError(t, err)
	assert.Equal(t, &msg[0], &again[0], "encoded once")
}
