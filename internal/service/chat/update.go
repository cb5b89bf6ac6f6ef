package chat

import (
	"context"
	"sync"

	"github.com/daadii/onechat/backend/internal/model/chat"
	"github.com/daadii/onechat/backend/internal/service/transcript"
)

// UpdateType distinguishes the payload of an Update.
type UpdateType string

const (
	UpdateTranscript UpdateType = "transcript"
	UpdateNotice     UpdateType = "notice"
	UpdateState      UpdateType = "state"
)

// Update is pushed to controller subscribers as the send cycle progresses.
type Update struct {
	Type   UpdateType        `json:"type"`
	Event  *transcript.Event `json:"event,omitempty"`
	Notice *chat.Notice      `json:"notice,omitempty"`
	State  State             `json:"state,omitempty"`
}

// listeners fans updates out; callbacks run on the publishing goroutine and
// must not call back into the controller's transcript.
type listeners struct {
	mu     sync.RWMutex
	fns    map[int]func(Update)
	nextID int
}

func newListeners() *listeners {
	return &listeners{fns: make(map[int]func(Update))}
}

func (l *listeners) add(fn func(Update)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.fns[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listeners) publish(u Update) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, fn := range l.fns {
		fn(u)
	}
}

// Watch streams the controller's updates until ctx is done, then closes the
// channel. Updates queue without bound so a slow reader never stalls a send.
func (c *Controller) Watch(ctx context.Context) <-chan Update {
	out := make(chan Update)

	var (
		mu    sync.Mutex
		queue []Update
		wake  = make(chan struct{}, 1)
	)
	cancel := c.Subscribe(func(u Update) {
		mu.Lock()
		queue = append(queue, u)
		mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	go func() {
		defer close(out)
		defer cancel()
		for {
			mu.Lock()
			pending := queue
			queue = nil
			mu.Unlock()

			for _, u := range pending {
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
