// Package artifact caches synthesized speech audio so that replaying an
// identical (reply text, voice) pair never re-invokes the TTS provider. The
// media gateway serves cached bytes through a short-lived pull URL instead
// of streaming synthesis inline, which keeps the call's turn latency off
// the critical path for repeated phrases (greetings, common acknowledgements).
package artifact

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/atrium/pkg/provider/tts"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned by Fetch when no artifact exists for the given ID,
// whether because it was never produced, already evicted, or the ID is
// simply unknown.
var ErrNotFound = errors.New("artifact: not found")

// Synthesizer produces the full audio for a reply, used on a cache miss.
// Implementations typically open a [tts.Session], speak the text, flush,
// and drain the session's Audio channel until synthesis settles.
type Synthesizer func(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error)

type entry struct {
	key   string
	bytes []byte
}

// Cache is a bounded, in-memory LRU of synthesized audio keyed by
// hash(text, voice). Concurrent misses for the same key are coalesced via
// singleflight so only one synthesis call is ever in flight per key at a
// time. Safe for concurrent use.
type Cache struct {
	synth Synthesizer
	max   int

	mu       sync.Mutex
	order    *list.List
	elements map[string]*list.Element

	group singleflight.Group
}

// New creates a Cache bounded at max entries. synth is invoked at most once
// per distinct (text, voice) pair concurrently; max must be > 0.
func New(max int, synth Synthesizer) (*Cache, error) {
	if max <= 0 {
		return nil, fmt.Errorf("artifact: max must be > 0, got %d", max)
	}
	if synth == nil {
		return nil, errors.New("artifact: synth must not be nil")
	}
	return &Cache{
		synth:    synth,
		max:      max,
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}, nil
}

// Key derives the stable cache key for a (text, voice) pair. The key also
// doubles as the opaque ID exposed through the pull URL.
func Key(text string, voice tts.VoiceProfile) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(voice.Provider))
	h.Write([]byte{0})
	h.Write([]byte(voice.ID))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%g:%g", voice.PitchShift, voice.SpeedFactor)
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrSynthesize returns the cached audio for (text, voice), synthesizing
// it on a miss. Concurrent callers racing on the same key block behind a
// single synthesis call rather than each invoking the TTS provider.
func (c *Cache) GetOrSynthesize(ctx context.Context, text string, voice tts.VoiceProfile) (id string, data []byte, err error) {
	key := Key(text, voice)

	if data, ok := c.get(key); ok {
		return key, data, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another caller may have populated the entry while this
		// one waited to acquire the singleflight slot.
		if data, ok := c.get(key); ok {
			return data, nil
		}
		audio, err := c.synth(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		c.put(key, audio)
		return audio, nil
	})
	if err != nil {
		return "", nil, err
	}
	return key, v.([]byte), nil
}

// Fetch returns the cached audio for id without triggering synthesis,
// refreshing its LRU recency. Used by the artifact pull-URL handler.
func (c *Cache) Fetch(id string) ([]byte, error) {
	data, ok := c.get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.elements[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).bytes, true
}

func (c *Cache) put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[key]; ok {
		el.Value.(*entry).bytes = data
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, bytes: data})
	c.elements[key] = el

	for c.order.Len() > c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.elements, oldest.Value.(*entry).key)
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
