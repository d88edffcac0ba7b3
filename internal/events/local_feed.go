package events

import (
	"context"
	"path"
	"sync"
)

// LocalFeed is an in-process Bus. It backs single-node deployments without Redis
// and tests. Slow subscribers lose events rather than block publishers.
type LocalFeed struct {
	mu     sync.RWMutex
	subs   map[*localSub]struct{}
	buffer int
}

type localSub struct {
	pattern string
	ch      chan ChangeEvent
	once    sync.Once
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[*localSub]struct{}), buffer: 64}
}

func (f *LocalFeed) Publish(_ context.Context, ev ChangeEvent) error {
	channel := ev.Channel()

	f.mu.RLock()
	defer f.mu.RUnlock()
	for s := range f.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
	return nil
}

func (f *LocalFeed) Subscribe(ctx context.Context, table Table, estadoID string) (<-chan ChangeEvent, func(), error) {
	s := &localSub{pattern: Pattern(table, estadoID), ch: make(chan ChangeEvent, f.buffer)}

	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			f.mu.Lock()
			delete(f.subs, s)
			f.mu.Unlock()
			close(s.ch)
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cancel()
		}()
	}
	return s.ch, cancel, nil
}
