package selection

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"
	"sync"
)

// Source 抽獎使用的亂數來源
// 抽獎演算法只依賴這個介面，可以替換成可驗證或可重現的來源
type Source interface {
	// IntN 回傳[0, n)之間均勻分布的整數，n必須大於0
	IntN(n int) int
	// Label 描述亂數來源，會被寫入抽獎紀錄以便稽核
	Label() string
}

type cryptoSource struct{}

// NewCryptoSource 以crypto/rand為來源
func NewCryptoSource() Source {
	return cryptoSource{}
}

func (cryptoSource) IntN(n int) int {
	if n <= 0 {
		panic("selection: IntN called with non-positive n")
	}
	// 拒絕取樣，避免取模造成的偏差
	limit := ^uint64(0) - (^uint64(0) % uint64(n))
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("selection: crypto/rand failed, err=%v", err))
		}
		v := binary.LittleEndian.Uint64(buf[:])
		if v < limit {
			return int(v % uint64(n))
		}
	}
}

func (cryptoSource) Label() string {
	return "crypto/rand"
}

type seededSource struct {
	mu   sync.Mutex
	rng  *mrand.Rand
	seed uint64
}

// NewSeededSource 以固定種子建立可重現的來源
func NewSeededSource(seed uint64) Source {
	return &seededSource{
		rng:  mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		seed: seed,
	}
}

func (s *seededSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *seededSource) Label() string {
	return fmt.Sprintf("pcg:%d", s.seed)
}
