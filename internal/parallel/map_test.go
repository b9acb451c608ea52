package parallel_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storyloom/sidecar/internal/parallel"
)

func TestMap(t *testing.T) {
	t.Parallel()

	f := func(_ context.Context, d time.Duration) (int, error) {
		time.Sleep(d)
		return int(d), nil
	}

	input := []time.Duration{10 * time.Second, 5 * time.Second, 2 * time.Second, 1 * time.Second}
	expected := []int{
		int(10 * time.Second),
		int(5 * time.Second),
		int(2 * time.Second),
		int(1 * time.Second),
	}

	var testCases = []struct {
		scenario string
		limit    int
		then     time.Duration
	}{
		{"limit 1", 1, 18 * time.Second},
		{"limit 2", 2, 10 * time.Second},
		{"limit 10", 10, 10 * time.Second},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				start := time.Now()
				got, errs := values(parallel.Map(t.Context(), tt.limit, all(input), f))
				require.Empty(t, errs)
				// the slowest element is first, the order is kept anyway
				require.Equal(t, expected, got)
				require.Equal(t, tt.then, time.Since(start))
			})
		})
	}
}

func TestMap_Cancel(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 1500*time.Millisecond)
		defer cancel()

		f := func(ctx context.Context, d time.Duration) (int, error) {
			select {
			case <-time.After(d):
				return int(d), nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		input := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}

		start := time.Now()
		got, errs := values(parallel.Map(ctx, 1, all(input), f))
		require.Equal(t, []int{int(time.Second)}, got)
		require.NotEmpty(t, errs)
		require.ErrorIs(t, errs[len(errs)-1], context.DeadlineExceeded)
		require.Equal(t, 1500*time.Millisecond, time.Since(start))
	})
}

func TestMap_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	seq := func(yield func(int, error) bool) {
		for i := range 5 {
			var err error
			if i == 2 {
				err = boom
			}
			if !yield(i, err) {
				return
			}
		}
	}
	double := func(_ context.Context, i int) (int, error) {
		if i == 4 {
			return 0, errors.New("four")
		}
		return i * 2, nil
	}

	var got []int
	var errs []string
	for d, err := range parallel.Map(t.Context(), 3, seq, double) {
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		got = append(got, d)
	}
	require.Equal(t, []int{0, 2, 6}, got)
	require.Equal(t, []string{"boom", "four"}, errs)
}

func TestMap_Break(t *testing.T) {
	t.Parallel()
	endless := func(yield func(int, error) bool) {
		for i := 0; ; i++ {
			if !yield(i, nil) {
				return
			}
		}
	}
	id := func(_ context.Context, i int) (int, error) {
		return i, nil
	}
	var got []int
	for d, err := range parallel.Map(t.Context(), 4, endless, id) {
		require.NoError(t, err)
		got = append(got, d)
		if len(got) == 3 {
			break
		}
	}
	require.Equal(t, []int{0, 1, 2}, got)
}

func all[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}

func values[T any](i iter.Seq2[T, error]) ([]T, []error) {
	var ret []T
	var errs []error
	for k, err := range i {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ret = append(ret, k)
	}
	return ret, errs
}
