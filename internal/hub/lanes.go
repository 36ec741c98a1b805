package hub

import (
	"context"
	"sync"
)

// lane is the ordered event sequence for one room. Each operation runs to
// completion, broadcast included, before the next starts, which is what
// gives per-room delivery ordering. Lanes are independent: slow storage
// or scoring I/O on one room never blocks another room's lane or any
// registry operation.
type lane struct {
	ch chan func(context.Context)
}

// laneSet owns the per-room lanes, creating them on demand. All lane
// goroutines stop when the hub context is cancelled.
type laneSet struct {
	mu     sync.Mutex
	lanes  map[int64]*lane
	buffer int
	wg     sync.WaitGroup
}

func newLaneSet(buffer int) *laneSet {
	return &laneSet{
		lanes:  make(map[int64]*lane),
		buffer: buffer,
	}
}

// dispatch queues an operation on the room's lane, starting the lane's
// worker on first use. A full lane rejects the operation with
// ErrRoomLaneFull rather than blocking the transport goroutine.
func (s *laneSet) dispatch(ctx context.Context, roomID int64, op func(context.Context)) error {
	s.mu.Lock()
	l, exists := s.lanes[roomID]
	if !exists {
		l = &lane{ch: make(chan func(context.Context), s.buffer)}
		s.lanes[roomID] = l
		s.wg.Add(1)
		go s.run(ctx, l)
	}
	s.mu.Unlock()

	select {
	case l.ch <- op:
		return nil
	default:
		return ErrRoomLaneFull
	}
}

func (s *laneSet) run(ctx context.Context, l *lane) {
	defer s.wg.Done()
	for {
		select {
		case op := <-l.ch:
			op(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// wait blocks until every lane worker has observed cancellation.
func (s *laneSet) wait() {
	s.wg.Wait()
}
