package sources

import (
	"sort"
	"sync"

	"hivework.ai/internal/sim/tasks"
)

// Storage is a bounded item store. Capacity counts items, not stacks;
// zero means unbounded.
type Storage struct {
	capacity int

	mu    sync.Mutex
	items map[string]int
	total int
}

func NewStorage(capacity int) *Storage {
	return &Storage{capacity: capacity, items: map[string]int{}}
}

func (s *Storage) Extract(item string, n int) int {
	if n <= 0 || item == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	have := s.items[item]
	if have < n {
		n = have
	}
	if n == 0 {
		return 0
	}
	s.items[item] = have - n
	if s.items[item] == 0 {
		delete(s.items, item)
	}
	s.total -= n
	return n
}

func (s *Storage) Insert(stack tasks.ItemStack) tasks.ItemStack {
	if stack.Item == "" || stack.Count <= 0 {
		return tasks.ItemStack{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := stack.Count
	if s.capacity > 0 {
		if room := s.capacity - s.total; room < n {
			n = room
		}
	}
	if n > 0 {
		s.items[stack.Item] += n
		s.total += n
	}
	rest := stack.Count - n
	if rest <= 0 {
		return tasks.ItemStack{}
	}
	return tasks.ItemStack{Item: stack.Item, Count: rest}
}

func (s *Storage) Count(item string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[item]
}

func (s *Storage) Snapshot() []tasks.ItemStack {
	s.mu.Lock()
	out := make([]tasks.ItemStack, 0, len(s.items))
	for k, v := range s.items {
		out = append(out, tasks.ItemStack{Item: k, Count: v})
	}
	s.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Item < out[b].Item })
	return out
}

// Chain tries each material source in order.
type Chain []tasks.MaterialSource

func (c Chain) Extract(item string, n int) int {
	got := 0
	for _, m := range c {
		if m == nil || got >= n {
			continue
		}
		got += m.Extract(item, n-got)
	}
	return got
}

func (c Chain) Insert(stack tasks.ItemStack) tasks.ItemStack {
	rest := stack
	for _, m := range c {
		if m == nil || rest.Count <= 0 {
			continue
		}
		rest = m.Insert(rest)
	}
	return rest
}

// Infinite hands out anything and swallows deposits.
type Infinite struct{}

func (Infinite) Extract(item string, n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func (Infinite) Insert(tasks.ItemStack) tasks.ItemStack { return tasks.ItemStack{} }
