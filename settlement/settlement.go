// Package settlement 定義核心與鏈上結算之間的契約
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrCommitRejected = errors.New("settlement commit rejected")

// Gateway 外部結算閘道
// 核心同步呼叫，兩類操作都可能失敗，由呼叫端決定是否重試
type Gateway interface {
	// VerifyReference 確認付款參照是否為已確認的鏈上交易
	VerifyReference(ctx context.Context, reference string) (bool, error)
	// CommitWinners 宣告抽獎得獎者，成功時回傳鏈上參照
	CommitWinners(ctx context.Context, raffleID uuid.UUID, winners []string) (string, error)
	CommitAuctionStart(ctx context.Context, auctionID uuid.UUID) (string, error)
	CommitAuctionEnd(ctx context.Context, auctionID uuid.UUID) (string, error)
	CommitGumballStart(ctx context.Context, gumballID uuid.UUID) (string, error)
	CommitGumballEnd(ctx context.Context, gumballID uuid.UUID) (string, error)
}

// Commit 一次成功的結算提交
type Commit struct {
	Action    string
	Aggregate uuid.UUID
	Winners   []string
	Reference string
}

// Simulated 在程序內模擬結算，用於開發環境與測試
type Simulated struct {
	mu       sync.Mutex
	denied   map[string]struct{}
	denyAll  bool
	failNext int
	failErr  error
	commits  []Commit
}

func NewSimulated() *Simulated {
	return &Simulated{denied: make(map[string]struct{})}
}

// Deny 讓指定參照驗證失敗
func (s *Simulated) Deny(references ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range references {
		s.denied[ref] = struct{}{}
	}
}

// DenyAll 讓所有參照驗證失敗
func (s *Simulated) DenyAll(deny bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyAll = deny
}

// FailCommits 讓接下來的n次提交失敗
func (s *Simulated) FailCommits(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrCommitRejected
	}
	s.failNext = n
	s.failErr = err
}

// Commits 回傳目前成功的提交紀錄
func (s *Simulated) Commits() []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Commit(nil), s.commits...)
}

func (s *Simulated) VerifyReference(ctx context.Context, reference string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denyAll {
		return false, nil
	}
	_, denied := s.denied[reference]
	return !denied, nil
}

func (s *Simulated) CommitWinners(ctx context.Context, raffleID uuid.UUID, winners []string) (string, error) {
	return s.commit(ctx, "announce_winners", raffleID, winners)
}

func (s *Simulated) CommitAuctionStart(ctx context.Context, auctionID uuid.UUID) (string, error) {
	return s.commit(ctx, "start_auction", auctionID, nil)
}

func (s *Simulated) CommitAuctionEnd(ctx context.Context, auctionID uuid.UUID) (string, error) {
	return s.commit(ctx, "end_auction", auctionID, nil)
}

func (s *Simulated) CommitGumballStart(ctx context.Context, gumballID uuid.UUID) (string, error) {
	return s.commit(ctx, "start_gumball", gumballID, nil)
}

func (s *Simulated) CommitGumballEnd(ctx context.Context, gumballID uuid.UUID) (string, error) {
	return s.commit(ctx, "end_gumball", gumballID, nil)
}

func (s *Simulated) commit(ctx context.Context, action string, id uuid.UUID, winners []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return "", fmt.Errorf("%s %s: %w", action, id, s.failErr)
	}
	ref := "sim-" + uuid.NewString()
	s.commits = append(s.commits, Commit{
		Action:    action,
		Aggregate: id,
		Winners:   append([]string(nil), winners...),
		Reference: ref,
	})
	return ref, nil
}
