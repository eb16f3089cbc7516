package redis

import (
	"context"

	"arenad/events"
)

// IProducer 定義了 Producer 的操作介面
type IProducer interface {
	events.Publisher
	Start()
	Recent(ctx context.Context, count int64) ([]events.Event, error)
	Close()
}

// IAutoRenewMutex 定義了 AutoRenewMutex 的操作介面
type IAutoRenewMutex interface {
	TryLock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}

var (
	_ IProducer       = (*Producer)(nil)
	_ IAutoRenewMutex = (*AutoRenewMutex)(nil)
)
