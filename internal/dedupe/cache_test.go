// ABOUTME: Tests for the message seen-set
// ABOUTME: Validates message keys, TTL expiry with a fake clock, LRU eviction and sweeping

package dedupe

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pie-bridge/internal/message"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(t *testing.T, ttl time.Duration, size int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(ttl, size)
	c.now = clock.now
	t.Cleanup(c.Close)
	return c, clock
}

func decodeMessage(t *testing.T, raw string) message.ChatMessage {
	t.Helper()
	in, err := message.Decode(json.RawMessage(raw))
	require.NoError(t, err)
	require.NotNil(t, in.Message)
	return *in.Message
}

func TestMessageKey(t *testing.T) {
	group := decodeMessage(t, `{"type":"GroupMessage","sender":{"id":5,"group":{"id":77}},
		"messageChain":[{"type":"Source","id":123,"time":1},{"type":"Plain","text":"hi"}]}`)
	key, ok := MessageKey(group)
	require.True(t, ok)
	assert.Equal(t, "GroupMessage:77:123", key)

	friend := decodeMessage(t, `{"type":"FriendMessage","sender":{"id":5},
		"messageChain":[{"type":"Source","id":123,"time":1}]}`)
	key, ok = MessageKey(friend)
	require.True(t, ok)
	assert.Equal(t, "FriendMessage:5:123", key)

	noSource := decodeMessage(t, `{"type":"FriendMessage","sender":{"id":5},"messageChain":[]}`)
	_, ok = MessageKey(noSource)
	assert.False(t, ok)
}

func TestSeenMessage(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)
	msg := decodeMessage(t, `{"type":"FriendMessage","sender":{"id":5},
		"messageChain":[{"type":"Source","id":9,"time":1}]}`)
	noSource := decodeMessage(t, `{"type":"FriendMessage","sender":{"id":5},"messageChain":[]}`)

	assert.False(t, c.SeenMessage(msg))
	assert.True(t, c.SeenMessage(msg))
	assert.False(t, c.SeenMessage(noSource))
	assert.False(t, c.SeenMessage(noSource), "messages without a source id always pass")
}

func TestCheckAndMark_Expiry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	assert.False(t, c.CheckAndMark("k"))
	assert.True(t, c.Check("k"))

	clock.advance(30 * time.Second)
	assert.True(t, c.CheckAndMark("k"), "re-marking refreshes the sighting")

	clock.advance(45 * time.Second)
	assert.True(t, c.Check("k"))

	clock.advance(time.Minute)
	assert.False(t, c.Check("k"))
	assert.False(t, c.CheckAndMark("k"))
}

func TestCheckAndMark_EvictsLeastRecent(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)

	c.CheckAndMark("a")
	c.CheckAndMark("b")
	c.CheckAndMark("c")
	c.CheckAndMark("a") // a becomes most recent
	c.CheckAndMark("d") // evicts b

	assert.Equal(t, 3, c.Len())
	assert.True(t, c.Check("a"))
	assert.False(t, c.Check("b"))
	assert.True(t, c.Check("c"))
	assert.True(t, c.Check("d"))
}

func TestSweep(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.CheckAndMark("old-1")
	c.CheckAndMark("old-2")
	clock.advance(50 * time.Second)
	c.CheckAndMark("new")
	clock.advance(20 * time.Second)

	c.sweep()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Check("new"))
}

func TestConcurrentUse(t *testing.T) {
	c := New(time.Minute, 50)
	defer c.Close()

	var wg sync.WaitGroup
	for g := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				c.CheckAndMark(string(rune('a'+g)) + string(rune('a'+i%26)))
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestClose_Idempotent(t *testing.T) {
	c := New(time.Minute, 1)
	c.Close()
	c.Close()
}
