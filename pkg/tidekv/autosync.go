package tidekv

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/tidekv/internal/infra/filewatch"
)

// autoSync reloads a store when its file changes on disk.
type autoSync struct {
	watcher *filewatch.Watcher
	limiter *rate.Limiter
	kick    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func startAutoSync[V any](db *DB[V], interval time.Duration, hook func(error)) (*autoSync, error) {
	w, err := filewatch.New(filewatch.WithLogger(db.logger))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(db.path); err != nil {
		w.Stop()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &autoSync{
		watcher: w,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		kick:    make(chan struct{}, 1),
		cancel:  cancel,
	}
	w.OnChange(func(string) {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	})
	w.StartAsync()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.kick:
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			err := db.Load()
			if err != nil {
				db.logger.Warn("automatic reload failed", "path", db.path, "error", err)
			}
			if hook != nil {
				hook(err)
			}
		}
	}()
	return s, nil
}

func (s *autoSync) stop() {
	s.watcher.Stop()
	s.cancel()
	s.wg.Wait()
}
