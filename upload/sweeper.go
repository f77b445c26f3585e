package upload

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper 定时清理遗留的上传目录（进程崩溃或请求异常退出时留下的）
type Sweeper struct {
	cron   *cron.Cron
	store  *Store
	maxAge time.Duration
	logger *slog.Logger
}

func NewSweeper(store *Store, schedule string, maxAge time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:   cron.New(),
		store:  store,
		maxAge: maxAge,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待正在执行的清理结束
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	n, err := s.store.Sweep(s.maxAge)
	if err != nil {
		s.logger.Error("upload sweep failed", "err", err)
	}
	if n > 0 {
		s.logger.Info("upload sweep removed stale entries", "count", n)
	}
}
