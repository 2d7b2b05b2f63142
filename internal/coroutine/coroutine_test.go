package coroutine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPaginatedWalk models a paginated API iterator (§4.1): the body
// yields pages until it runs out, then returns the total page count.
func TestPaginatedWalk(t *testing.T) {
	var pages = []string{"page-1", "page-2", "page-3"}

	var co = New[string, struct{}, int](context.Background(), func(ctx context.Context, s *Suspend[string, struct{}]) (int, error) {
		for _, p := range pages {
			if _, err := s.Yield(p); err != nil {
				return 0, err
			}
		}
		return len(pages), nil
	})

	var got []string
	var step = co.Start()
	for !step.Done {
		got = append(got, step.Yielded)
		step = co.Resume(struct{}{})
	}

	require.NoError(t, step.Err)
	require.Equal(t, pages, got)
	require.Equal(t, len(pages), step.Out)
}

// TestResumeCarriesValue models a connector adapter: the driver's resume
// value (e.g. a checkpoint ack) is observed by the next yield.
func TestResumeCarriesValue(t *testing.T) {
	var co = New[int, int, int](context.Background(), func(ctx context.Context, s *Suspend[int, int]) (int, error) {
		var sum int
		for i := 0; i < 3; i++ {
			r, err := s.Yield(i)
			if err != nil {
				return 0, err
			}
			sum += r
		}
		return sum, nil
	})

	var step = co.Start()
	for !step.Done {
		step = co.Resume(step.Yielded * 10)
	}
	require.Equal(t, (0*10)+(1*10)+(2*10), step.Out)
}

func TestResultFlavorMapsErrorToTerminal(t *testing.T) {
	var co = NewResult[string](context.Background(), func(ctx context.Context, s *Suspend[string, struct{}]) error {
		if _, err := s.Yield("first"); err != nil {
			return err
		}
		return context.Canceled
	})

	step := co.Start()
	require.False(t, step.Done)
	step = co.Resume(struct{}{})
	require.True(t, step.Done)
	require.ErrorIs(t, step.Err, context.Canceled)
}
