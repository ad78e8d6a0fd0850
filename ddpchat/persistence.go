package ddpchat

import (
	"context"
	"time"
)

// SnapshotStore persists published snapshots so a restarted client can show
// its last known state before the server answers.
//
// Load returns (nil, nil) when nothing was saved yet.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

const saveTimeout = 5 * time.Second

// snapshotSaver writes snapshots off the session goroutine. Only the latest
// offered snapshot is kept; older unsaved ones are dropped.
type snapshotSaver struct {
	store  SnapshotStore
	logger Logger
	latest chan *Snapshot
	done   chan struct{}
}

func newSnapshotSaver(store SnapshotStore, logger Logger) *snapshotSaver {
	s := &snapshotSaver{
		store:  store,
		logger: logger,
		latest: make(chan *Snapshot, 1),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// offer must only be called from one goroutine.
func (s *snapshotSaver) offer(snap *Snapshot) {
	select {
	case s.latest <- snap:
		return
	default:
	}
	select {
	case <-s.latest:
	default:
	}
	s.latest <- snap
}

// stop saves whatever is queued and waits for the saver to exit.
func (s *snapshotSaver) stop() {
	close(s.latest)
	<-s.done
}

func (s *snapshotSaver) loop() {
	defer close(s.done)
	for snap := range s.latest {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		err := s.store.Save(ctx, snap)
		cancel()
		if err != nil {
			s.logger.Warn("snapshot save failed", map[string]any{
				"version": snap.Version,
				"error":   err.Error(),
			})
			continue
		}
		s.logger.Debug("snapshot saved", map[string]any{"version": snap.Version})
	}
}
