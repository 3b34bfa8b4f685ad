// Package window keeps bounded recent-history sample series for the graphs view.
//
// Nothing here is synchronized: a Bank is owned by the render loop and only
// mutated from inside a tick.
package window

// Capacity is the number of samples kept per series.
const Capacity = 50

// Series is a fixed-size ring that overwrites the oldest sample when full.
type Series struct {
	buf  [Capacity]float64
	next int // next write position
	n    int
}

func (s *Series) Push(v float64) {
	s.buf[s.next] = v
	s.next = (s.next + 1) % Capacity
	if s.n < Capacity {
		s.n++
	}
}

func (s *Series) Len() int { return s.n }

// Values returns a copy of the samples, oldest first.
func (s *Series) Values() []float64 {
	out := make([]float64, s.n)
	start := s.next - s.n
	if start < 0 {
		start += Capacity
	}
	for i := 0; i < s.n; i++ {
		out[i] = s.buf[(start+i)%Capacity]
	}
	return out
}

// Bank maps a series id (a stat name) to its Series.
// Series are created on first push and kept for the whole session.
type Bank struct {
	series map[string]*Series
	order  []string
}

func NewBank() *Bank {
	return &Bank{series: make(map[string]*Series)}
}

func (b *Bank) Push(id string, v float64) {
	s, ok := b.series[id]
	if !ok {
		if b.series == nil {
			b.series = make(map[string]*Series)
		}
		s = &Series{}
		b.series[id] = s
		b.order = append(b.order, id)
	}
	s.Push(v)
}

// SeriesFor returns the samples of id, oldest first, or nil if id was never pushed.
func (b *Bank) SeriesFor(id string) []float64 {
	s, ok := b.series[id]
	if !ok {
		return nil
	}
	return s.Values()
}

// IDs returns series ids in first-seen order.
func (b *Bank) IDs() []string {
	return append([]string(nil), b.order...)
}

func (b *Bank) Len() int { return len(b.order) }
