// Package selection 抽獎與扭蛋的選取演算法，不涉及任何I/O
package selection

import (
	"github.com/samber/lo"
)

// Ticket 某位參與者持有的彩券張數
type Ticket struct {
	Participant string
	Quantity    int
}

// Draw 一次抽獎的完整結果
type Draw struct {
	Winners      []string
	PoolSize     int
	Participants int
	Entropy      string
}

// DrawWinners 依持有張數加權，不重複抽出numberOfWinners位得獎者
//
// 每位參與者在池中出現的次數等於持有張數。若不重複的參與者人數不超過numberOfWinners，
// 全部參與者皆得獎(依第一次出現的順序)，不需要任何亂數。否則對整個池做Fisher–Yates洗牌，
// 依洗牌後的順序取出並去除重複，直到湊滿numberOfWinners位。
func DrawWinners(src Source, tickets []Ticket, numberOfWinners int) Draw {
	pool := make([]string, 0, lo.SumBy(tickets, func(t Ticket) int { return max(t.Quantity, 0) }))
	for _, t := range tickets {
		for i := 0; i < t.Quantity; i++ {
			pool = append(pool, t.Participant)
		}
	}
	distinct := lo.Uniq(pool)
	draw := Draw{
		PoolSize:     len(pool),
		Participants: len(distinct),
	}
	if numberOfWinners <= 0 || len(pool) == 0 {
		draw.Winners = []string{}
		return draw
	}
	if len(distinct) <= numberOfWinners {
		draw.Winners = distinct
		draw.Entropy = "none"
		return draw
	}

	draw.Entropy = src.Label()
	for i := len(pool) - 1; i > 0; i-- {
		j := src.IntN(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}
	winners := make([]string, 0, numberOfWinners)
	seen := make(map[string]struct{}, numberOfWinners)
	for _, participant := range pool {
		if _, ok := seen[participant]; ok {
			continue
		}
		seen[participant] = struct{}{}
		winners = append(winners, participant)
		if len(winners) == numberOfWinners {
			break
		}
	}
	draw.Winners = winners
	return draw
}

// Candidate 一項可被扭出的獎品
type Candidate struct {
	Key      string
	Quantity int
	Claimed  int
}

// Available 過濾出仍有剩餘數量的獎品
func Available(candidates []Candidate) []Candidate {
	return lo.Filter(candidates, func(c Candidate, _ int) bool {
		return c.Claimed < c.Quantity
	})
}

// PickPrize 從仍有剩餘的獎品中等機率選出一項
// 每一種獎品機率相同，不以剩餘數量加權
func PickPrize(src Source, candidates []Candidate) (Candidate, bool) {
	available := Available(candidates)
	if len(available) == 0 {
		return Candidate{}, false
	}
	return available[src.IntN(len(available))], true
}
