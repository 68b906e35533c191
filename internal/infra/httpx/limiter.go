package httpx

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter 为每个 host 维护独立的令牌桶。
// 不同镜像之间互不影响；同一镜像的搜索与详情请求共享额度。
type HostLimiter struct {
	limit rate.Limit
	burst int

	mu     sync.Mutex
	byHost map[string]*rate.Limiter
}

func NewHostLimiter(limit rate.Limit, burst int) *HostLimiter {
	return &HostLimiter{
		limit:  limit,
		burst:  burst,
		byHost: make(map[string]*rate.Limiter),
	}
}

// Wait 阻塞直到 host 有可用令牌。
//
// 与 rate.Limiter.Wait 不同：不会因为“预计等待超过 ctx 截止时间”而提前失败，
// 只在 ctx 真正结束时返回 ctx.Err()，并归还预留的令牌。
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := l.get(host).Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (l *HostLimiter) get(host string) *rate.Limiter {
	host = strings.ToLower(strings.TrimSpace(host))

	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.byHost[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byHost[host] = lim
	}
	return lim
}
