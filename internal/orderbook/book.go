// Package orderbook 维护全深度订单簿：全量快照 + 增量更新的双指针合并。
package orderbook

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownAction 表示无法识别的深度推送类型
var ErrUnknownAction = errors.New("unknown book action")

// 深度推送类型
const (
	ActionSnapshot = "snapshot"
	ActionUpdate   = "update"
)

// Level 是一个价位：价格与挂单量，Size 为 0 表示删除该价位
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Book 是一侧按价格排序的深度：Bids 从高到低，Asks 从低到高
type Book struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Clone 深拷贝
func (b Book) Clone() Book {
	return Book{
		Bids: append([]Level(nil), b.Bids...),
		Asks: append([]Level(nil), b.Asks...),
	}
}

// Merge 用双指针把增量 inc 合并进全量 full，两侧各 O(n+m)。
// 价格相同时增量覆盖全量；增量中 Size 为 0 的价位会被删除 (不论全量中是否存在)。
func Merge(full, inc Book) Book {
	return Book{
		Bids: mergeSide(full.Bids, inc.Bids, func(a, b float64) bool { return a > b }),
		Asks: mergeSide(full.Asks, inc.Asks, func(a, b float64) bool { return a < b }),
	}
}

// mergeSide better(a, b) 为 true 表示 a 应排在 b 前面
func mergeSide(full, inc []Level, better func(a, b float64) bool) []Level {
	out := make([]Level, 0, len(full)+len(inc))
	keep := func(l Level) {
		if l.Size != 0 {
			out = append(out, l)
		}
	}

	i, j := 0, 0
	for i < len(full) && j < len(inc) {
		switch {
		case better(full[i].Price, inc[j].Price):
			out = append(out, full[i])
			i++
		case better(inc[j].Price, full[i].Price):
			keep(inc[j])
			j++
		default:
			keep(inc[j])
			i++
			j++
		}
	}
	out = append(out, full[i:]...)
	for ; j < len(inc); j++ {
		keep(inc[j])
	}
	return out
}

// LocalBook 是某个 Symbol 的本地深度副本，可并发读写
type LocalBook struct {
	mu      sync.RWMutex
	symbol  string
	book    Book
	ready   bool
	updates int
}

func NewLocalBook(symbol string) *LocalBook {
	return &LocalBook{symbol: symbol}
}

func (lb *LocalBook) Symbol() string { return lb.symbol }

// Apply 处理一次深度推送：snapshot 整体替换，update 与当前深度合并。
// 收到第一个 snapshot 之前的 update 会被拒绝。
func (lb *LocalBook) Apply(action string, b Book) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	switch action {
	case ActionSnapshot:
		lb.book = Merge(Book{}, b)
		lb.ready = true
	case ActionUpdate:
		if !lb.ready {
			return fmt.Errorf("update before snapshot for %s", lb.symbol)
		}
		lb.book = Merge(lb.book, b)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	lb.updates++
	return nil
}

// Book 返回当前深度的副本
func (lb *LocalBook) Book() Book {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.book.Clone()
}

// Updates 返回已应用的推送次数
func (lb *LocalBook) Updates() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.updates
}

// BestBid 返回买一，深度为空时 ok 为 false
func (lb *LocalBook) BestBid() (Level, bool) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	if len(lb.book.Bids) == 0 {
		return Level{}, false
	}
	return lb.book.Bids[0], true
}

// BestAsk 返回卖一，深度为空时 ok 为 false
func (lb *LocalBook) BestAsk() (Level, bool) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	if len(lb.book.Asks) == 0 {
		return Level{}, false
	}
	return lb.book.Asks[0], true
}
