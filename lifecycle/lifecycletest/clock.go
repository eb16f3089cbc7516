// Package lifecycletest 引擎測試共用的工具
package lifecycletest

import (
	"sync"
	"time"
)

// Clock 可手動推進的時間來源
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}

// Epoch 測試使用的固定起始時間
var Epoch = time.Date(2030, time.January, 1, 12, 0, 0, 0, time.UTC)
