package sinkhole

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/dns/dnsmessage"

	"github.com/haukened/focusflow/internal/focus/common/clock"
)

// maxCacheTTL caps how long any upstream answer is reused.
const maxCacheTTL = time.Hour

type cachedAnswer struct {
	packet   []byte
	storedAt time.Time
	expires  time.Time
}

// CachingUpstream answers repeated questions from memory until the
// smallest TTL in the upstream reply runs out. Blocked names never reach
// it, so the cache only ever holds allowed answers.
type CachingUpstream struct {
	next  Upstream
	lru   *lru.Cache[string, cachedAnswer]
	clock clock.Clock
}

var _ Upstream = (*CachingUpstream)(nil)

// NewCachingUpstream wraps next with an LRU of the given size.
func NewCachingUpstream(next Upstream, size int, clk clock.Clock) (*CachingUpstream, error) {
	cache, err := lru.New[string, cachedAnswer](size)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &CachingUpstream{next: next, lru: cache, clock: clk}, nil
}

// Forward serves query from the cache when possible, otherwise from next.
func (c *CachingUpstream) Forward(ctx context.Context, query []byte) ([]byte, error) {
	key, id, ok := questionKey(query)
	if !ok {
		return c.next.Forward(ctx, query)
	}

	now := c.clock.Now()
	if entry, found := c.lru.Get(key); found {
		if now.Before(entry.expires) {
			if reply, err := rewriteCached(entry, id, now); err == nil {
				return reply, nil
			}
		}
		c.lru.Remove(key)
	}

	reply, err := c.next.Forward(ctx, query)
	if err != nil {
		return nil, err
	}
	if ttl, ok := cacheTTL(reply); ok {
		stored := make([]byte, len(reply))
		copy(stored, reply)
		c.lru.Add(key, cachedAnswer{packet: stored, storedAt: now, expires: now.Add(ttl)})
	}
	return reply, nil
}

// Len returns the number of cached questions.
func (c *CachingUpstream) Len() int {
	return c.lru.Len()
}

func questionKey(query []byte) (string, uint16, bool) {
	var p dnsmessage.Parser
	hdr, err := p.Start(query)
	if err != nil {
		return "", 0, false
	}
	q, err := p.Question()
	if err != nil {
		return "", 0, false
	}
	return strings.ToLower(q.Name.String()) + "|" + q.Type.String() + "|" + q.Class.String(), hdr.ID, true
}

// cacheTTL reports how long reply may be reused. Only complete NOERROR
// answers and NXDOMAIN replies qualify.
func cacheTTL(reply []byte) (time.Duration, bool) {
	var msg dnsmessage.Message
	if err := msg.Unpack(reply); err != nil {
		return 0, false
	}
	if msg.Truncated {
		return 0, false
	}
	switch msg.RCode {
	case dnsmessage.RCodeSuccess:
		if len(msg.Answers) == 0 && len(msg.Authorities) == 0 {
			return 0, false
		}
	case dnsmessage.RCodeNameError:
	default:
		return 0, false
	}

	minTTL := uint32(0)
	seen := false
	for _, section := range [][]dnsmessage.Resource{msg.Answers, msg.Authorities} {
		for _, rr := range section {
			if !seen || rr.Header.TTL < minTTL {
				minTTL, seen = rr.Header.TTL, true
			}
		}
	}
	if !seen || minTTL == 0 {
		return 0, false
	}
	ttl := time.Duration(minTTL) * time.Second
	if ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	return ttl, true
}

// rewriteCached returns entry's packet with id and the TTLs aged by the
// time it has spent in the cache.
func rewriteCached(entry cachedAnswer, id uint16, now time.Time) ([]byte, error) {
	var msg dnsmessage.Message
	if err := msg.Unpack(entry.packet); err != nil {
		return nil, err
	}
	msg.ID = id
	elapsed := uint32(now.Sub(entry.storedAt) / time.Second)
	for _, section := range [][]dnsmessage.Resource{msg.Answers, msg.Authorities, msg.Additionals} {
		for i := range section {
			if section[i].Header.Type == dnsmessage.TypeOPT {
				continue
			}
			if section[i].Header.TTL > elapsed {
				section[i].Header.TTL -= elapsed
			} else {
				section[i].Header.TTL = 0
			}
		}
	}
	return msg.Pack()
}
