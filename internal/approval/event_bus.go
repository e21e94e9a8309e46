package approval

import (
	"sync"
	"time"
)

// Event 审批状态变化
type Event struct {
	ApprovalID  string      `json:"approvalId"`
	SubjectType SubjectType `json:"subjectType"`
	SubjectID   string      `json:"subjectId"`
	Status      Status      `json:"status"`
	Actor       string      `json:"actor,omitempty"`
	Comments    string      `json:"comments,omitempty"`
	OccurredAt  time.Time   `json:"occurredAt"`
}

// EventBusConfig 控制事件总线行为
type EventBusConfig struct {
	BufferSize int
}

// EventBus 进程内事件总线，按审批对象 ID 订阅
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	seq    uint64
	buffer int
}

// NewEventBus 创建事件总线
func NewEventBus(cfg *EventBusConfig) *EventBus {
	buffer := 1
	if cfg != nil && cfg.BufferSize > 0 {
		buffer = cfg.BufferSize
	}
	return &EventBus{
		subs:   make(map[string]map[uint64]chan Event),
		buffer: buffer,
	}
}

// Publish 发布事件，接收方处理慢则丢弃
func (b *EventBus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[evt.SubjectID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe 订阅指定对象的审批事件
func (b *EventBus) Subscribe(subjectID string) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.seq++
	id := b.seq
	if _, ok := b.subs[subjectID]; !ok {
		b.subs[subjectID] = make(map[uint64]chan Event)
	}
	b.subs[subjectID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.removeListener(subjectID, id) })
	}
}

func (b *EventBus) removeListener(subjectID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if listeners, ok := b.subs[subjectID]; ok {
		if ch, exists := listeners[id]; exists {
			delete(listeners, id)
			close(ch)
		}
		if len(listeners) == 0 {
			delete(b.subs, subjectID)
		}
	}
}
