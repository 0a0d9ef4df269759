// Package realtime pushes in-process events to websocket clients. Clients
// subscribe to topics; the hub forwards every event it receives from the
// event bus to the clients subscribed to that topic.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-clinic/internal/events"
)

const sendBuffer = 64

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one websocket connection. A non-empty Consultation limits
// delivery to events of that consultation.
type Client struct {
	ID           string
	Consultation string
	Send         chan []byte

	topics map[string]struct{}
}

// NewClient returns a client subscribed to topics.
func NewClient(consultation string, topics ...string) *Client {
	c := &Client{
		ID:           uuid.New().String(),
		Consultation: consultation,
		Send:         make(chan []byte, sendBuffer),
		topics:       make(map[string]struct{}, len(topics)),
	}
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
	return c
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	allowed map[string]bool
	gauge   prometheus.Gauge
	logger  *zap.Logger
}

// NewHub creates a hub that accepts subscriptions to the given topics.
// gauge, when set, tracks the number of connected clients.
func NewHub(gauge prometheus.Gauge, logger *zap.Logger, topics ...string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		allowed: make(map[string]bool, len(topics)),
		gauge:   gauge,
		logger:  logger,
	}
	for _, t := range topics {
		h.allowed[t] = true
	}
	return h
}

// Attach subscribes the hub to every allowed topic on bus. The returned
// func detaches it again.
func (h *Hub) Attach(bus *events.Bus) (detach func()) {
	var unsubs []func()
	for topic := range h.allowed {
		unsubs = append(unsubs, bus.Subscribe(topic, h.Broadcast))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Register adds a client. Topics the hub does not serve are dropped.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[c] = struct{}{}
	for t := range c.topics {
		if !h.allowed[t] {
			delete(c.topics, t)
			continue
		}
		h.add(t, c)
	}
	if h.gauge != nil {
		h.gauge.Set(float64(len(h.all)))
	}
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for t := range c.topics {
		h.remove(t, c)
	}
	delete(h.all, c)
	close(c.Send)
	if h.gauge != nil {
		h.gauge.Set(float64(len(h.all)))
	}
}

// Process applies a subscribe or unsubscribe message.
func (h *Hub) Process(c *Client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for _, t := range msg.Topics {
		switch msg.Action {
		case "subscribe":
			if h.allowed[t] {
				c.topics[t] = struct{}{}
				h.add(t, c)
			}
		case "unsubscribe":
			delete(c.topics, t)
			h.remove(t, c)
		}
	}
}

func (h *Hub) add(topic string, c *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][c] = struct{}{}
}

func (h *Hub) remove(topic string, c *Client) {
	if subs, ok := h.clients[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Broadcast delivers ev to the subscribers of its topic. Slow clients with
// a full buffer miss the event.
func (h *Hub) Broadcast(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[ev.Topic] {
		if c.Consultation != "" && c.Consultation != ev.ConsultationID {
			continue
		}
		select {
		case c.Send <- data:
		default:
			h.logger.Warn("realtime client buffer full", zap.String("client_id", c.ID), zap.String("topic", ev.Topic))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
