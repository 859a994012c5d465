package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	s := New()
	s.AddEnrolled()
	s.AddEnrolled()
	s.AddAlreadyEnrolled()
	s.AddExpired()
	s.AddUnwantedLanguage()
	s.AddUnwantedCategory()
	s.RecordPrice(19.99, "$")
	s.RecordPrice(12.50, "€")

	snap := s.Snapshot()
	require.Equal(t, 2, snap.Enrolled)
	require.Equal(t, 1, snap.AlreadyEnrolled)
	require.Equal(t, 1, snap.Expired)
	require.Equal(t, 1, snap.UnwantedLanguage)
	require.Equal(t, 1, snap.UnwantedCategory)
	require.InDelta(t, 32.49, snap.Savings(), 0.001)
	// the first observed symbol sticks
	require.Equal(t, "$", snap.CurrencySymbol)
}

func TestConcurrentMutation(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddEnrolled()
			s.RecordPrice(1, "$")
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Equal(t, 50, snap.Enrolled)
	require.InDelta(t, 50, snap.Savings(), 0.001)
}
