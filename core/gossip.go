package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// Announcement is the gossip payload broadcast when a CBL becomes
// retrievable: its retrieval handle plus enough delivery metadata for
// subscribers to decide whether the message concerns them.
type Announcement struct {
	MessageID string          `json:"messageId"`
	Handle    RetrievalHandle `json:"handle"`
	Delivery  *MessageDelivery `json:"delivery,omitempty"`
}

// GossipBus is the external transport collaborator: announcement
// broadcast/subscribe is delegated entirely to it, per the specification's
// choice to keep transport out of the core's own responsibilities.
type GossipBus interface {
	Publish(ctx context.Context, topic string, a Announcement) error
	Subscribe(ctx context.Context, topic string) (<-chan Announcement, error)
	Close() error
}

// LocalGossipBus is an in-process GossipBus for tests and single-node
// demos: Publish fans out synchronously to every active Subscribe channel
// on the same topic.
type LocalGossipBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Announcement
}

// NewLocalGossipBus builds an empty in-process bus.
func NewLocalGossipBus() *LocalGossipBus {
	return &LocalGossipBus{subs: make(map[string][]chan Announcement)}
}

func (b *LocalGossipBus) Publish(ctx context.Context, topic string, a Announcement) error {
	b.mu.RLock()
	chans := append([]chan Announcement{}, b.subs[topic]...)
	b.mu.RUnlock()
	for _, ch := range chans {
		select {
		case ch <- a:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalGossipBus) Subscribe(ctx context.Context, topic string) (<-chan Announcement, error) {
	ch := make(chan Announcement, 16)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, c := range list {
			if c == ch {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch, nil
}

func (b *LocalGossipBus) Close() error { return nil }

// LibP2PGossipBus is the production GossipBus, built on a libp2p host with
// GossipSub pubsub and mDNS peer discovery, modeled directly on this core's
// node-bootstrap idiom: one host, one pubsub instance, topics joined
// lazily on first Publish/Subscribe.
type LibP2PGossipBus struct {
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewLibP2PGossipBus creates a libp2p host listening on listenAddr, wires a
// GossipSub router, and starts mDNS discovery tagged discoveryTag.
func NewLibP2PGossipBus(listenAddr, discoveryTag string) (*LibP2PGossipBus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gossip: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("gossip: create pubsub: %w", err)
	}

	bus := &LibP2PGossipBus{
		host:   h,
		pubsub: ps,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
	}

	svc := mdns.NewMdnsService(h, discoveryTag, bus)
	if err := svc.Start(); err != nil {
		logrus.Warnf("gossip: mdns start failed: %v", err)
	}

	return bus, nil
}

// HandlePeerFound implements mdns.Notifee: connect to newly discovered
// peers on the local network.
func (b *LibP2PGossipBus) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == b.host.ID() {
		return
	}
	if err := b.host.Connect(b.ctx, info); err != nil {
		logrus.Warnf("gossip: connect to discovered peer %s failed: %v", info.ID, err)
	}
}

func (b *LibP2PGossipBus) joinTopic(topic string) (*pubsub.Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[topic]; ok {
		return t, nil
	}
	t, err := b.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("gossip: join topic %s: %w", topic, err)
	}
	b.topics[topic] = t
	return t, nil
}

func (b *LibP2PGossipBus) Publish(ctx context.Context, topic string, a Announcement) error {
	t, err := b.joinTopic(topic)
	if err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return NewError(ErrDeliveryInitiationFailed, "announcement", err)
	}
	if err := t.Publish(ctx, data); err != nil {
		return NewError(ErrDeliveryInitiationFailed, "publish", err)
	}
	return nil
}

func (b *LibP2PGossipBus) Subscribe(ctx context.Context, topic string) (<-chan Announcement, error) {
	t, err := b.joinTopic(topic)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("gossip: subscribe topic %s: %w", topic, err)
	}
	out := make(chan Announcement)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}
			var a Announcement
			if err := json.Unmarshal(msg.Data, &a); err != nil {
				logrus.Warnf("gossip: dropping undecodable announcement on %s: %v", topic, err)
				continue
			}
			select {
			case out <- a:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *LibP2PGossipBus) Close() error {
	b.cancel()
	return b.host.Close()
}
