package watch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"
)

// EventType 对应 fsnotify 的操作类别。
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventRemove EventType = "remove"
	EventRename EventType = "rename"
)

// Event 是推送给订阅者的变更事件，Name 为相对根目录、以 / 分隔的路径。
type Event struct {
	Type EventType `json:"type"`
	Name string    `json:"name"`
}

// ErrHubClosed 表示 Hub 已关闭，不再接受订阅或发布。
var ErrHubClosed = errors.New("watch hub closed")

// Hub 按根目录划分 topic，把变更事件广播给所有当前订阅者。
type Hub struct {
	pubsub *gochannel.GoChannel
	logger *logrus.Logger

	active atomic.Int64
	closed atomic.Bool
}

// NewHub 创建基于 watermill gochannel 的非持久化广播器。
// Publish 会等待全部订阅者确认，保证每个订阅者按发布顺序收到事件。
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            64,
				Persistent:                     false,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
		logger: logger,
	}
}

// Publish 将事件投递给 root 的所有订阅者；没有订阅者时事件被丢弃。
// 订阅回调返回前 Publish 不会返回，回调不能阻塞。
func (h *Hub) Publish(root string, event Event) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return h.pubsub.Publish(root, message.NewMessage(watermill.NewUUID(), payload))
}

// Subscribe 为 root 注册回调，返回的 dispose 用于注销；dispose 可重复调用。
// ctx 结束时订阅同样会被注销。dispose 返回后 fn 不会再被调用。
func (h *Hub) Subscribe(ctx context.Context, root string, fn func(Event)) (func(), error) {
	if h.closed.Load() {
		return nil, ErrHubClosed
	}
	subCtx, cancel := context.WithCancel(ctx)
	messages, err := h.pubsub.Subscribe(subCtx, root)
	if err != nil {
		cancel()
		return nil, err
	}
	h.active.Add(1)

	var (
		mu       sync.Mutex
		disposed bool
		once     sync.Once
	)
	dispose := func() {
		once.Do(func() {
			mu.Lock()
			disposed = true
			mu.Unlock()
			cancel()
			h.active.Add(-1)
		})
	}

	go func() {
		defer dispose()
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				h.logDecodeError(root, err)
				msg.Ack()
				continue
			}
			mu.Lock()
			if !disposed {
				fn(event)
			}
			mu.Unlock()
			msg.Ack()
		}
	}()

	return dispose, nil
}

// Subscribers 返回当前仍然有效的订阅数量。
func (h *Hub) Subscribers() int {
	return int(h.active.Load())
}

// Close 关闭底层 pub/sub，所有订阅随之结束。
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.pubsub.Close()
}

func (h *Hub) logDecodeError(root string, err error) {
	if h.logger == nil {
		return
	}
	h.logger.WithFields(logrus.Fields{
		"action": "watch",
		"root":   root,
	}).Warn("watch_event_decode_failed: " + err.Error())
}
