// Package stream fans recording state out to websocket clients. With Redis
// configured, broadcasts are relayed between service instances.
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	channelPrefix = "recording:"
	channelSuffix = ":state"
	clientBuffer  = 64
)

var publishTimeout = 2 * time.Second

type Hub struct {
	redis  *redis.Client
	origin string
	log    logrus.FieldLogger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}
}

type Client struct {
	Key  string
	Send chan []byte
}

// envelope is the Redis wire format. Origin lets an instance skip its own
// publications, which it already delivered locally.
type envelope struct {
	Origin  string `msgpack:"origin"`
	Key     string `msgpack:"key"`
	Payload []byte `msgpack:"payload"`
}

func NewHub(redisClient *redis.Client, log logrus.FieldLogger) *Hub {
	h := &Hub{
		redis:   redisClient,
		origin:  uuid.NewString(),
		log:     log,
		clients: map[string]map[*Client]struct{}{},
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}

	if redisClient == nil {
		close(h.ready)
		close(h.done)
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.relay(ctx)
	return h
}

// Ready is closed once the Redis relay is subscribed, or immediately without Redis.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

func (h *Hub) Register(key string) *Client {
	client := &Client{
		Key:  key,
		Send: make(chan []byte, clientBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[key] == nil {
		h.clients[key] = map[*Client]struct{}{}
	}
	h.clients[key][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	keyClients, ok := h.clients[client.Key]
	if !ok {
		return
	}
	if _, ok := keyClients[client]; !ok {
		return
	}
	delete(keyClients, client)
	if len(keyClients) == 0 {
		delete(h.clients, client.Key)
	}
	close(client.Send)
}

// Clients reports how many local clients follow key.
func (h *Hub) Clients(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[key])
}

func (h *Hub) Broadcast(key string, payload []byte) {
	h.deliver(key, payload)

	if h.redis == nil {
		return
	}
	msg, err := msgpack.Marshal(envelope{Origin: h.origin, Key: key, Payload: payload})
	if err != nil {
		h.log.WithField("error", err).Error("encode relay envelope")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.redis.Publish(ctx, redisChannel(key), msg).Err(); err != nil {
		h.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("redis publish failed")
	}
}

// Close stops the Redis relay. Registered clients are left to their handlers.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

// deliver never blocks; a client with a full queue misses the update.
func (h *Hub) deliver(key string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[key] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) relay(ctx context.Context) {
	defer close(h.done)

	pubsub := h.redis.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	defer pubsub.Close()

	// closing the subscription unblocks a Receive on a server that never answers
	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		close(h.ready)
		if ctx.Err() == nil {
			h.log.WithField("error", err).Error("redis relay subscription failed")
		}
		return
	}
	close(h.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := msgpack.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.WithFields(logrus.Fields{"channel": msg.Channel, "error": err}).Warn("dropping relay message")
				continue
			}
			if env.Origin == h.origin {
				continue
			}
			if env.Key == "" {
				env.Key = keyFromChannel(msg.Channel)
			}
			h.deliver(env.Key, env.Payload)
		}
	}
}

func redisChannel(key string) string {
	return channelPrefix + key + channelSuffix
}

func keyFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
