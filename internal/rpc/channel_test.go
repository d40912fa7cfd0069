package rpc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/replayer/internal/script"
)

func collect(t *testing.T, b *Bus) (func() []string, func()) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []string
	)
	unsub := b.Subscribe(func(msg []byte) {
		mu.Lock()
		seen = append(seen, string(msg))
		mu.Unlock()
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}, unsub
}

func TestBusBroadcastsInOrder(t *testing.T) {
	b := NewBus()
	first, _ := collect(t, b)
	second, _ := collect(t, b)

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, b.Post([]byte(m)))
	}

	want := []string{"a", "b", "c"}
	assert.Eventually(t, func() bool { return len(first()) == 3 && len(second()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, first())
	assert.Equal(t, want, second())
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	seen, unsub := collect(t, b)

	require.NoError(t, b.Post([]byte("before")))
	assert.Eventually(t, func() bool { return len(seen()) == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	require.NoError(t, b.Post([]byte("after")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"before"}, seen())
}

func TestBusClose(t *testing.T) {
	b := NewBus()
	b.Close()
	assert.ErrorIs(t, b.Post([]byte("x")), ErrClosed)
	b.Subscribe(func([]byte) { t.Error("subscriber on closed bus must not be called") })()
	b.Close()
}

func TestRequestRoundTrip(t *testing.T) {
	step := script.Step{ID: "s1", Action: script.ActionFill, Target: "#user", Value: "admin", Order: 2}
	req, err := NewRequest("sess", 2, step)
	require.NoError(t, err)

	data, err := Encode(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"step"`)
	assert.Contains(t, string(data), `"stepNumber":2`)

	msg, err := Decode(data)
	require.NoError(t, err)
	got, ok := msg.(*Request)
	require.True(t, ok)

	decoded, err := got.Step()
	require.NoError(t, err)
	assert.Equal(t, step, decoded)
}

func TestDecodeResponseAndForeignKinds(t *testing.T) {
	msg, err := Decode([]byte(`{"kind":"result","sessionId":"s","stepNumber":4,"success":false,"error":"boom"}`))
	require.NoError(t, err)
	resp, ok := msg.(*Response)
	require.True(t, ok)
	assert.True(t, resp.Matches("s", 4))
	assert.False(t, resp.Matches("other", 4))
	assert.Equal(t, "boom", resp.Error)

	msg, err = Decode([]byte(`{"kind":"ping"}`))
	assert.NoError(t, err)
	assert.Nil(t, msg)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
