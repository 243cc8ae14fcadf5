package engine

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ SeqSource = (*Clock)(nil)

func TestNewClockAt_FirstSeq(t *testing.T) {
	tests := []struct {
		name  string
		start int64
		want  int64
	}{
		{name: "empty store", start: 0, want: 1},
		{name: "resumes after stored max", start: 41, want: 42},
		{name: "negative clamps", start: -5, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClockAt(tt.start)
			assert.Equal(t, tt.want-1, c.Current())
			assert.Equal(t, tt.want, c.Next())
			assert.Equal(t, tt.want, c.Current())
		})
	}
}

func TestClock_CurrentIsReadOnly(t *testing.T) {
	c := NewClock()
	c.Next()
	c.Next()

	for range 3 {
		assert.Equal(t, int64(2), c.Current())
	}
	assert.Equal(t, int64(3), c.Next())
}

func TestClock_ConcurrentSeqsAreDense(t *testing.T) {
	const (
		workers = 50
		perWork = 200
	)
	c := NewClockAt(10)

	var (
		mu   sync.Mutex
		seqs []int64
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Go(func() {
			local := make([]int64, 0, perWork)
			for range perWork {
				local = append(local, c.Next())
			}
			mu.Lock()
			seqs = append(seqs, local...)
			mu.Unlock()
		})
	}
	wg.Wait()

	require.Len(t, seqs, workers*perWork)
	slices.Sort(seqs)
	for i, seq := range seqs {
		require.Equal(t, int64(11+i), seq, "seqs must be unique and gap-free")
	}
	assert.Equal(t, int64(10+workers*perWork), c.Current())
}
