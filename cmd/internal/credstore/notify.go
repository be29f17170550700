package credstore

import "context"

// Notifying decorates a Store and signals a watch channel after every
// successful Set or Clear. The session lifecycle controller subscribes
// to re-resolve on each change.
//
// Signals are coalesced: a burst of changes produces at least one
// signal, and the watcher re-reads the store rather than trusting the
// signal to carry a value.
type Notifying struct {
	inner   Store
	changes chan struct{}
}

func NewNotifying(inner Store) *Notifying {
	return &Notifying{
		inner:   inner,
		changes: make(chan struct{}, 1),
	}
}

// Changes returns the coalesced change feed.
func (n *Notifying) Changes() <-chan struct{} {
	return n.changes
}

func (n *Notifying) Get(ctx context.Context) (string, error) {
	return n.inner.Get(ctx)
}

func (n *Notifying) Set(ctx context.Context, token string) error {
	if err := n.inner.Set(ctx, token); err != nil {
		return err
	}
	n.signal()
	return nil
}

func (n *Notifying) Clear(ctx context.Context) error {
	if err := n.inner.Clear(ctx); err != nil {
		return err
	}
	n.signal()
	return nil
}

func (n *Notifying) signal() {
	select {
	case n.changes <- struct{}{}:
	default:
	}
}
