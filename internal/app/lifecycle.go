package app

import (
	"context"
	"errors"
)

// Close tears the session down in reverse bootstrap order: the config
// watcher, the orchestrator (which seizes the drawing context), the lane
// queue, the codec and finally the store. Calling Close twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.teardown(ctx)
	s.logger.Info("session closed", "error", err)
	return err
}

func (s *Session) teardown(ctx context.Context) error {
	var errs []error

	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	if s.orch != nil {
		if dc := s.orch.Dispose(); dc != nil {
			errs = append(errs, dc.Close())
		}
	} else if s.dc != nil {
		errs = append(errs, s.dc.Close())
	}
	if s.queue != nil {
		errs = append(errs, s.queue.Close(ctx))
	}
	if s.codec != nil {
		errs = append(errs, s.codec.Close())
	}
	if s.store != nil && s.ownStore {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
