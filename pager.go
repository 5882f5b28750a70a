package pdfgate

import "sync"

// Pager is the current-page cursor, always within [1, count].
type Pager struct {
	mu      sync.Mutex
	current int
	count   int
}

func NewPager(count int) *Pager {
	return &Pager{current: 1, count: max(count, 1)}
}

func (p *Pager) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Pager) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Next reports whether the cursor moved.
func (p *Pager) Next() bool {
	return p.move(1)
}

func (p *Pager) Previous() bool {
	return p.move(-1)
}

// Goto clamps n into range and reports whether the cursor moved.
func (p *Pager) Goto(n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n = min(max(n, 1), p.count)
	moved := n != p.current
	p.current = n
	return moved
}

func (p *Pager) HasNext() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current < p.count
}

func (p *Pager) HasPrevious() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current > 1
}

func (p *Pager) move(delta int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.current + delta
	if next < 1 || next > p.count {
		return false
	}
	p.current = next
	return true
}
