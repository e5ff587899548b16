package messaging

import (
	"sync"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/realtime"
)

// watcher drives the change subscriptions of a live component. Each
// subscription is drained by its own goroutine; Done is closed once all of
// them have stopped.
type watcher struct {
	subs    []*realtime.Subscription
	changed chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func newWatcher(subs ...*realtime.Subscription) *watcher {
	return &watcher{
		subs:    subs,
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// start begins delivering events to handle. If a subscription dropped events
// because its buffer was full, resync runs after the next handled event.
// When any subscription ends the others are closed too.
func (w *watcher) start(handle func(realtime.ChangeEvent), resync func()) {
	for _, sub := range w.subs {
		w.wg.Add(1)
		go func(sub *realtime.Subscription) {
			defer w.wg.Done()
			for ev := range sub.Events() {
				handle(ev)
				if sub.Overflowed() && resync != nil {
					resync()
				}
			}
			w.stop()
		}(sub)
	}
	go func() {
		w.wg.Wait()
		close(w.done)
	}()
}

func (w *watcher) stop() {
	for _, sub := range w.subs {
		sub.Close()
	}
}

// notify signals Changed without blocking. Signals coalesce.
func (w *watcher) notify() {
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// Changed receives a value after the component's state changed.
func (w *watcher) Changed() <-chan struct{} {
	return w.changed
}

// Done is closed once the component stopped following the change feed.
func (w *watcher) Done() <-chan struct{} {
	return w.done
}

// Close releases the subscriptions and waits for event handling to stop.
func (w *watcher) Close() error {
	w.stop()
	<-w.done
	return nil
}
