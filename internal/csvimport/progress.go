package csvimport

import "sync"

type State string

const (
	StateIdle      State = "idle"
	StateImporting State = "importing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

type Snapshot struct {
	State     State  `json:"state"`
	Percent   int    `json:"percent"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// Progress tracks a batch import. The percentage never decreases and stops
// moving once the batch succeeds or fails.
type Progress struct {
	mu       sync.Mutex
	snap     Snapshot
	onChange func(Snapshot)
}

func NewProgress(onChange func(Snapshot)) *Progress {
	return &Progress{snap: Snapshot{State: StateIdle}, onChange: onChange}
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Start moves to Importing at 0%. total is the number of rows across all files.
func (p *Progress) Start(total int) {
	p.update(func(s *Snapshot) bool {
		if s.State != StateIdle {
			return false
		}
		*s = Snapshot{State: StateImporting, Total: total}
		return true
	})
}

// Advance records n more processed rows.
func (p *Progress) Advance(n int) {
	p.update(func(s *Snapshot) bool {
		if s.State != StateImporting || n <= 0 {
			return false
		}
		s.Processed += n
		if s.Total > 0 && s.Processed > s.Total {
			s.Processed = s.Total
		}
		pct := 100
		if s.Total > 0 {
			pct = s.Processed * 100 / s.Total
		}
		if pct > s.Percent {
			s.Percent = min(pct, 100)
		}
		return true
	})
}

func (p *Progress) Succeed() {
	p.update(func(s *Snapshot) bool {
		if s.State != StateImporting {
			return false
		}
		s.State = StateSucceeded
		s.Percent = 100
		s.Processed = s.Total
		return true
	})
}

func (p *Progress) Fail(message string) {
	p.update(func(s *Snapshot) bool {
		if s.State == StateSucceeded || s.State == StateFailed {
			return false
		}
		s.State = StateFailed
		s.Message = message
		return true
	})
}

func (p *Progress) update(fn func(*Snapshot) bool) {
	p.mu.Lock()
	changed := fn(&p.snap)
	snap := p.snap
	p.mu.Unlock()
	if changed && p.onChange != nil {
		p.onChange(snap)
	}
}
