package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
)

type SagaLog struct {
	mu      sync.RWMutex
	entries map[string][]saga.Entry
}

func NewSagaLog() *SagaLog {
	return &SagaLog{entries: make(map[string][]saga.Entry)}
}

func (l *SagaLog) Append(ctx context.Context, e saga.Entry) error {
	_ = ctx
	if err := e.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[e.OrderID] = append(l.entries[e.OrderID], e)
	return nil
}

func (l *SagaLog) Entries(ctx context.Context, orderID string) ([]saga.Entry, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]saga.Entry(nil), l.entries[orderID]...), nil
}

func (l *SagaLog) Stalled(ctx context.Context, step saga.Step) ([]string, error) {
	_ = ctx

	l.mu.RLock()
	out := make([]string, 0)
	for id, entries := range l.entries {
		if last, ok := saga.LastOf(entries, step); ok && last.Status == saga.StepStarted {
			out = append(out, id)
		}
	}
	l.mu.RUnlock()

	sort.Strings(out)
	return out, nil
}
