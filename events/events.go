// Package events 定義生命週期事件，交易提交後才會發布
package events

import (
	"sync"
	"time"
)

const (
	RaffleConfirmed       = "raffle.confirmed"
	RaffleStarted         = "raffle.started"
	RaffleTicketPurchased = "raffle.ticket_purchased"
	RaffleCancelled       = "raffle.cancelled"
	RaffleDrawn           = "raffle.drawn"
	RaffleEnded           = "raffle.ended"
	RafflePrizeClaimed    = "raffle.prize_claimed"
	RaffleEndedManually   = "raffle.ended_manually"
	RaffleDeleted         = "raffle.deleted"

	AuctionConfirmed = "auction.confirmed"
	AuctionStarted   = "auction.started"
	AuctionBidPlaced = "auction.bid_placed"
	AuctionExtended  = "auction.extended"
	AuctionCancelled = "auction.cancelled"
	AuctionEnded     = "auction.ended"
	AuctionClaimed   = "auction.claimed"
	AuctionDeleted   = "auction.deleted"

	GumballConfirmed      = "gumball.confirmed"
	GumballPrizeAdded     = "gumball.prize_added"
	GumballUpdated        = "gumball.updated"
	GumballActivated      = "gumball.activated"
	GumballStarted        = "gumball.started"
	GumballSpun           = "gumball.spun"
	GumballPrizeClaimed   = "gumball.prize_claimed"
	GumballCancelled      = "gumball.cancelled"
	GumballEnded          = "gumball.ended"
	GumballEndedManually  = "gumball.ended_manually"
	GumballBuyBackChanged = "gumball.buy_back_changed"
	GumballDeleted        = "gumball.deleted"
)

// Event 一次已提交的狀態異動
type Event struct {
	Kind        string            `msgpack:"kind" json:"kind"`
	Type        string            `msgpack:"type" json:"type"`
	AggregateID string            `msgpack:"aggregateId" json:"aggregateId"`
	State       string            `msgpack:"state,omitempty" json:"state,omitempty"`
	Actor       string            `msgpack:"actor,omitempty" json:"actor,omitempty"`
	Reference   string            `msgpack:"reference,omitempty" json:"reference,omitempty"`
	Amount      string            `msgpack:"amount,omitempty" json:"amount,omitempty"`
	At          time.Time         `msgpack:"at" json:"at"`
	Attributes  map[string]string `msgpack:"attributes,omitempty" json:"attributes,omitempty"`
}

// Publisher 事件發布者
type Publisher interface {
	Publish(event Event) error
}

// Nop 丟棄所有事件
type Nop struct{}

func (Nop) Publish(Event) error { return nil }

// Recorder 在記憶體中保存事件，用於測試
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events 回傳目前收到的事件副本
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types 依序回傳收到的事件類型
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

// Multi 將事件發送給多個發布者，回傳第一個錯誤
type Multi []Publisher

func (m Multi) Publish(event Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
