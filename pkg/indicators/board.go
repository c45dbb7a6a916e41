package indicators

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

// Plot is the last waveform received for a name.
type Plot struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

type Snapshot struct {
	Values    map[string]float64 `json:"values"`
	Plots     map[string]Plot    `json:"plots"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Board keeps the latest value of every indicator for readers that poll,
// such as the HTTP status endpoint.
type Board struct {
	mu        sync.RWMutex
	values    map[string]float64
	plots     map[string]Plot
	updatedAt time.Time
}

func NewBoard() *Board {
	return &Board{
		values: make(map[string]float64),
		plots:  make(map[string]Plot),
	}
}

func (b *Board) Apply(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u.IsPlot() {
		b.plots[u.Name.String()] = Plot{X: u.X, Y: u.Y}
	} else {
		b.values[u.Name.String()] = u.Value
	}
	b.updatedAt = time.Now()
}

// Run consumes q until it is closed or ctx is done.
func (b *Board) Run(ctx context.Context, q *Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-q.Updates():
			if !ok {
				return
			}
			b.Apply(u)
		}
	}
}

// Names lists every indicator seen so far, sorted.
func (b *Board) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := append(maps.Keys(b.values), maps.Keys(b.plots)...)
	slices.Sort(out)
	return out
}

// Latest returns a copy of the last value and plot per name.
func (b *Board) Latest() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Values:    maps.Clone(b.values),
		Plots:     maps.Clone(b.plots),
		UpdatedAt: b.updatedAt,
	}
}
