package history_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoorelay/internal/history"
	"github.com/yoockh/yoorelay/internal/models"
)

func TestStore_GetOrCreateRegistersEmptyHistory(t *testing.T) {
	s := history.NewStore(5)

	h := s.GetOrCreate("user-1")
	assert.Empty(t, h)

	st := s.Stats()
	assert.Equal(t, 1, st.TotalUsers)
	assert.Equal(t, 0, st.UserTurns["user-1"])
}

func TestStore_DefaultWindow(t *testing.T) {
	assert.Equal(t, history.DefaultMaxLength, history.NewStore(0).MaxLength())
	assert.Equal(t, history.DefaultMaxLength, history.NewStore(-3).MaxLength())
	assert.Equal(t, 7, history.NewStore(7).MaxLength())
}

func TestStore_WindowDropsOldest(t *testing.T) {
	s := history.NewStore(3)

	s.AppendUser("u", "a")
	s.AppendAssistant("u", "b")
	s.AppendUser("u", "c")
	s.AppendAssistant("u", "d")

	want := []models.Turn{
		models.AssistantTurn("b"),
		models.UserTurn("c"),
		models.AssistantTurn("d"),
	}
	assert.Equal(t, want, s.GetOrCreate("u"))
}

func TestStore_BoundHoldsAfterEveryAppend(t *testing.T) {
	for _, window := range []int{1, 2, 5, 20} {
		t.Run(fmt.Sprintf("window=%d", window), func(t *testing.T) {
			s := history.NewStore(window)
			var appended []models.Turn

			for i := 0; i < 3*window+2; i++ {
				turn := models.UserTurn(fmt.Sprintf("m%d", i))
				if i%2 == 1 {
					turn = models.AssistantTurn(fmt.Sprintf("m%d", i))
				}
				s.Append("u", turn)
				appended = append(appended, turn)

				got := s.GetOrCreate("u")
				require.LessOrEqual(t, len(got), window)

				keep := len(appended)
				if keep > window {
					keep = window
				}
				require.Equal(t, appended[len(appended)-keep:], got)
			}
		})
	}
}

func TestStore_RoundTripFitsWindow(t *testing.T) {
	const n = 4
	s := history.NewStore(2*n + 1)

	var want []models.Turn
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("q%d", i)
		s.AppendUser("u", text)
		want = append(want, models.UserTurn(text))
	}
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("r%d", i)
		s.AppendAssistant("u", text)
		want = append(want, models.AssistantTurn(text))
	}

	assert.Equal(t, want, s.GetOrCreate("u"))
}

func TestStore_EmptyContentIsStored(t *testing.T) {
	s := history.NewStore(5)
	s.AppendUser("u", "")

	got := s.GetOrCreate("u")
	require.Len(t, got, 1)
	assert.Equal(t, models.UserTurn(""), got[0])
}

func TestStore_ReturnedHistoryIsACopy(t *testing.T) {
	s := history.NewStore(5)
	s.AppendUser("u", "hello")

	h := s.GetOrCreate("u")
	h[0].Content = "mutated"

	assert.Equal(t, "hello", s.GetOrCreate("u")[0].Content)
}

func TestStore_Clear(t *testing.T) {
	s := history.NewStore(5)
	s.AppendUser("a", "1")
	s.AppendUser("b", "2")

	s.Clear("a")
	assert.Empty(t, s.GetOrCreate("a"))
	assert.Len(t, s.GetOrCreate("b"), 1)

	// absent and repeated clears are no-ops
	s.Clear("a")
	s.Clear("never-seen")
}

func TestStore_ClearAll(t *testing.T) {
	s := history.NewStore(5)
	for i := 0; i < 10; i++ {
		s.AppendUser(fmt.Sprintf("user-%d", i), "hi")
	}
	require.Equal(t, 10, s.Stats().TotalUsers)

	s.ClearAll()

	st := s.Stats()
	assert.Equal(t, 0, st.TotalUsers)
	assert.Empty(t, st.UserTurns)
}

func TestStore_Stats(t *testing.T) {
	s := history.NewStore(3)
	s.AppendUser("a", "1")
	s.AppendAssistant("a", "2")
	for i := 0; i < 5; i++ {
		s.AppendUser("b", "x")
	}

	st := s.Stats()
	assert.Equal(t, 2, st.TotalUsers)
	assert.Equal(t, map[string]int{"a": 2, "b": 3}, st.UserTurns)
}

func TestStore_ConcurrentUsers(t *testing.T) {
	const (
		users   = 20
		appends = 200
		window  = 10
	)
	s := history.NewStore(window)

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", u)
			for i := 0; i < appends; i++ {
				s.AppendUser(id, fmt.Sprintf("%d", i))
				_ = s.GetOrCreate(id)
			}
		}(u)
	}
	wg.Wait()

	st := s.Stats()
	assert.Equal(t, users, st.TotalUsers)
	for u := 0; u < users; u++ {
		id := fmt.Sprintf("user-%d", u)
		got := s.GetOrCreate(id)
		require.Len(t, got, window)
		// single writer per user: the tail is exactly the last appends, in order
		for i, turn := range got {
			assert.Equal(t, fmt.Sprintf("%d", appends-window+i), turn.Content)
		}
	}
}

func TestStore_ConcurrentAppendAndClear(t *testing.T) {
	s := history.NewStore(4)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.AppendUser("shared", "x")
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Clear("shared")
				s.ClearAll()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, len(s.GetOrCreate("shared")), 4)
}
