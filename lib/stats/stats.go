package stats

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RunStatistics aggregates counters over a whole watch run. The completion
// dispatcher records outcomes from worker goroutines, so every mutation
// goes through the mutex.
type RunStatistics struct {
	mu sync.Mutex

	startTime      time.Time
	currencySymbol string
	prices         []float64

	enrolled         int
	alreadyEnrolled  int
	expired          int
	unwantedLanguage int
	unwantedCategory int
}

// Snapshot is a read-only copy of the aggregate at some point in time.
type Snapshot struct {
	StartTime      time.Time
	Elapsed        time.Duration
	CurrencySymbol string
	Prices         []float64

	Enrolled         int
	AlreadyEnrolled  int
	Expired          int
	UnwantedLanguage int
	UnwantedCategory int
}

func (s Snapshot) Savings() float64 {
	var sum float64
	for _, p := range s.Prices {
		sum += p
	}
	return sum
}

func New() *RunStatistics {
	return &RunStatistics{startTime: time.Now().UTC()}
}

func (s *RunStatistics) AddEnrolled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrolled++
}

func (s *RunStatistics) AddAlreadyEnrolled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alreadyEnrolled++
}

func (s *RunStatistics) AddExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired++
}

func (s *RunStatistics) AddUnwantedLanguage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unwantedLanguage++
}

func (s *RunStatistics) AddUnwantedCategory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unwantedCategory++
}

// RecordPrice notes the listed price of a course that was claimed for free.
// The first non-empty currency symbol observed wins.
func (s *RunStatistics) RecordPrice(amount float64, currencySymbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, amount)
	if s.currencySymbol == "" && currencySymbol != "" {
		s.currencySymbol = currencySymbol
	}
}

func (s *RunStatistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	prices := make([]float64, len(s.prices))
	copy(prices, s.prices)

	return Snapshot{
		StartTime:        s.startTime,
		Elapsed:          time.Now().UTC().Sub(s.startTime),
		CurrencySymbol:   s.currencySymbol,
		Prices:           prices,
		Enrolled:         s.enrolled,
		AlreadyEnrolled:  s.alreadyEnrolled,
		Expired:          s.expired,
		UnwantedLanguage: s.unwantedLanguage,
		UnwantedCategory: s.unwantedCategory,
	}
}

// Table renders the end-of-run summary to stdout. Nothing is rendered
// when no prices were recorded, there is nothing worth showing then.
func (s *RunStatistics) Table() {
	snap := s.Snapshot()
	if len(snap.Prices) == 0 {
		return
	}

	symbol := snap.CurrencySymbol
	if symbol == "" {
		symbol = "¤"
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Run Statistics")
	t.AppendRows([]table.Row{
		{"Enrolled", snap.Enrolled},
		{"Unwanted Category", snap.UnwantedCategory},
		{"Unwanted Language", snap.UnwantedLanguage},
		{"Already Claimed", snap.AlreadyEnrolled},
		{"Expired", snap.Expired},
		{"Savings", fmt.Sprintf("%s%.2f", symbol, snap.Savings())},
		{"Total run time", snap.Elapsed.Round(time.Second)},
	})
	t.Render()
}
