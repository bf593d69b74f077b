package appointment

import (
	"strings"
	"sync"
	"time"

	"github.com/araddon/dateparse"

	"github.com/jwalitptl/reschedule-agent/internal/model"
)

// MaxCandidates is how many open slots are offered to a person on one call.
const MaxCandidates = 5

// DateMatch is the result of comparing a requested date against a slot date.
type DateMatch int

const (
	DateMismatch DateMatch = iota
	DateMatched
	DateUnparsable
)

func (m DateMatch) String() string {
	switch m {
	case DateMatched:
		return "matched"
	case DateUnparsable:
		return "unparsable"
	default:
		return "mismatch"
	}
}

// ParseDate parses the loose date formats found in uploads. Zone-less values are read as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MatchDate compares the literal strings first and falls back to calendar
// dates, ignoring time of day and formatting.
func MatchDate(target, slotDate string) DateMatch {
	target = strings.TrimSpace(target)
	slotDate = strings.TrimSpace(slotDate)
	if target != "" && target == slotDate {
		return DateMatched
	}
	want, ok := ParseDate(target)
	if !ok {
		return DateUnparsable
	}
	have, ok := ParseDate(slotDate)
	if !ok {
		return DateUnparsable
	}
	wy, wm, wd := want.Date()
	hy, hm, hd := have.Date()
	if wy == hy && wm == hm && wd == hd {
		return DateMatched
	}
	return DateMismatch
}

// Pool holds the open slots of a campaign. It is safe for concurrent use.
type Pool struct {
	mu          sync.RWMutex
	slots       []model.AppointmentSlot
	original    int
	rescheduled int
}

func NewPool() *Pool {
	return &Pool{}
}

// Load replaces the pool contents and resets its counters.
func (p *Pool) Load(slots []model.AppointmentSlot) {
	copied := make([]model.AppointmentSlot, len(slots))
	for i, s := range slots {
		copied[i] = s.Clone()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = copied
	p.original = len(copied)
	p.rescheduled = 0
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slots)
}

func (p *Pool) OriginalCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.original
}

func (p *Pool) RescheduledCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rescheduled
}

// Snapshot returns copies of the remaining slots in pool order.
func (p *Pool) Snapshot() []model.AppointmentSlot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.AppointmentSlot, len(p.slots))
	for i, s := range p.slots {
		out[i] = s.Clone()
	}
	return out
}

// Candidates returns up to limit slots to offer a person whose current
// appointment is currentDate. When currentDate parses only strictly earlier
// slots qualify; otherwise the first slots in pool order are offered.
func (p *Pool) Candidates(currentDate string, limit int) []model.AppointmentSlot {
	if limit <= 0 {
		limit = MaxCandidates
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	current, ok := ParseDate(currentDate)
	out := make([]model.AppointmentSlot, 0, limit)
	for _, s := range p.slots {
		if len(out) == limit {
			break
		}
		if ok {
			d, parsed := ParseDate(s.Date())
			if !parsed || !d.Before(current) {
				continue
			}
		}
		out = append(out, s.Clone())
	}
	return out
}

// FindAndRemove removes the first slot whose date matches target and reports
// whether one was removed. Slots with unparsable dates are passed over.
func (p *Pool) FindAndRemove(target string) bool {
	if strings.TrimSpace(target) == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, s := range p.slots {
		if MatchDate(target, s.Date()) != DateMatched {
			continue
		}
		p.slots = append(p.slots[:i:i], p.slots[i+1:]...)
		p.rescheduled++
		return true
	}
	return false
}
