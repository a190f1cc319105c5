package conversation

import (
	"time"

	"github.com/p-blackswan/project-assistant/internal/lru"
)

type clientKey struct {
	assistantID    string
	conversationID string
}

// ClientCache wraps a Host so that remote clients are built once per
// (assistantID, conversationID) and reused across fan-out calls.
type ClientCache struct {
	Host
	clients *lru.Cache[clientKey, RemoteConversation]
}

// NewClientCache caches up to size clients. A positive ttl makes clients
// expire and be rebuilt.
func NewClientCache(host Host, size int, ttl time.Duration) *ClientCache {
	if size < 1 {
		size = 1
	}
	var opts []lru.Option[clientKey, RemoteConversation]
	if ttl > 0 {
		opts = append(opts, lru.WithTTL[clientKey, RemoteConversation](ttl))
	}
	return &ClientCache{
		Host:    host,
		clients: lru.New[clientKey, RemoteConversation](size, opts...),
	}
}

// Client returns the cached client, building it on a miss.
func (c *ClientCache) Client(assistantID, conversationID string) RemoteConversation {
	key := clientKey{assistantID: assistantID, conversationID: conversationID}
	return c.clients.GetOrCreate(key, func() RemoteConversation {
		return c.Host.Client(assistantID, conversationID)
	})
}

// Forget drops a cached client.
func (c *ClientCache) Forget(assistantID, conversationID string) {
	c.clients.Delete(clientKey{assistantID: assistantID, conversationID: conversationID})
}

// Len returns the number of cached clients.
func (c *ClientCache) Len() int { return c.clients.Len() }
