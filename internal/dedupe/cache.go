// ABOUTME: Bounded TTL seen-set that suppresses chat messages the gateway delivers twice
// ABOUTME: Keys a message by its type, conversation subject and gateway source id

package dedupe

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/2389/pie-bridge/internal/message"
)

type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers keys for ttl, holding at most maxSize of them. When full, the
// least recently seen key is forgotten first.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	lru     *list.List // of *entry, least recently seen at the front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop(min(ttl, time.Minute))
	return c
}

// MessageKey identifies a chat message. ok is false when the chain carries no
// source id, in which case the message cannot be deduplicated.
func MessageKey(msg message.ChatMessage) (key string, ok bool) {
	id := msg.Chain.SourceID()
	if id == 0 {
		return "", false
	}
	w := message.NewWindow(msg)
	return fmt.Sprintf("%s:%d:%d", msg.Type, w.SubjectID, id), true
}

// SeenMessage reports whether msg was already seen within the ttl and marks it.
// Messages without a source id are never reported as seen.
func (c *Cache) SeenMessage(msg message.ChatMessage) bool {
	key, ok := MessageKey(msg)
	if !ok {
		return false
	}
	return c.CheckAndMark(key)
}

// Check reports whether key was seen within the ttl without marking it.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	return ok && c.fresh(el.Value.(*entry))
}

// CheckAndMark reports whether key was seen within the ttl, then marks it seen.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		dup := c.fresh(e)
		e.seenAt = c.now()
		c.lru.MoveToBack(el)
		return dup
	}

	for c.lru.Len() >= c.maxSize {
		c.removeElement(c.lru.Front())
	}
	c.index[key] = c.lru.PushBack(&entry{key: key, seenAt: c.now()})
	return false
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) fresh(e *entry) bool {
	return c.now().Sub(e.seenAt) < c.ttl
}

func (c *Cache) removeElement(el *list.Element) {
	c.lru.Remove(el)
	delete(c.index, el.Value.(*entry).key)
}

// sweep drops expired keys. The list is ordered by last sighting, so it stops at
// the first fresh one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.lru.Front(); el != nil; el = c.lru.Front() {
		if c.fresh(el.Value.(*entry)) {
			return
		}
		c.removeElement(el)
	}
}

func (c *Cache) sweepLoop(every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}
