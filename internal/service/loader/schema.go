package loader

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
)

// Dataset names an upload kind with its own learned schema.
type Dataset string

const (
	DatasetPeople       Dataset = "People"
	DatasetAppointments Dataset = "Appointments"
)

// Schemas remembers the column set of the first accepted upload per dataset.
type Schemas struct {
	mu      sync.RWMutex
	columns map[Dataset][]string
}

func NewSchemas() *Schemas {
	return &Schemas{columns: make(map[Dataset][]string)}
}

// Get returns the learned columns, or nil before the first upload.
func (s *Schemas) Get(d Dataset) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols := s.columns[d]
	if cols == nil {
		return nil
	}
	return append([]string(nil), cols...)
}

// Validate checks columns against the learned schema without changing it.
func (s *Schemas) Validate(d Dataset, columns []string) error {
	s.mu.RLock()
	expected, ok := s.columns[d]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	missing, extra := diff(expected, columns)
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	return apperrors.Validation(mismatchMessage(d, missing, extra))
}

// Learn records columns as the schema of d if none is known yet.
func (s *Schemas) Learn(d Dataset, columns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.columns[d]; ok {
		return
	}
	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	s.columns[d] = cols
}

func diff(expected, actual []string) (missing, extra []string) {
	want := make(map[string]struct{}, len(expected))
	for _, c := range expected {
		want[c] = struct{}{}
	}
	have := make(map[string]struct{}, len(actual))
	for _, c := range actual {
		have[c] = struct{}{}
		if _, ok := want[c]; !ok {
			extra = append(extra, c)
		}
	}
	for _, c := range expected {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

func mismatchMessage(d Dataset, missing, extra []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schema mismatch for %s.", d)
	if len(missing) > 0 {
		fmt.Fprintf(&b, " Missing columns: %s.", strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		fmt.Fprintf(&b, " Extra columns: %s.", strings.Join(extra, ", "))
	}
	return b.String()
}
