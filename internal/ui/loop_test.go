package ui_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dmscreen/internal/ui"
)

func TestLoop_DrainPreservesOrder(t *testing.T) {
	l := ui.NewLoop(zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		require.True(t, l.Post(i))
	}
	var got []int
	n := l.Drain(func(msg any) { got = append(got, msg.(int)) })
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Zero(t, l.Pending())
}

func TestLoop_DoRunsFunctions(t *testing.T) {
	l := ui.NewLoop(zaptest.NewLogger(t))
	ran := false
	l.Do(func() { ran = true })
	l.Drain(nil)
	assert.True(t, ran)
}

func TestLoop_MessagesPostedWhileDrainingAreHandled(t *testing.T) {
	l := ui.NewLoop(zaptest.NewLogger(t))
	var got []string
	l.Post("first")
	l.Drain(func(msg any) {
		got = append(got, msg.(string))
		if msg == "first" {
			l.Post("second")
		}
	})
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestLoop_HandlerPanicDoesNotStopLoop(t *testing.T) {
	l := ui.NewLoop(zaptest.NewLogger(t))
	l.Post("bad")
	l.Post("good")
	var got []string
	assert.NotPanics(t, func() {
		l.Drain(func(msg any) {
			if msg == "bad" {
				panic("handler failure")
			}
			got = append(got, msg.(string))
		})
	})
	assert.Equal(t, []string{"good"}, got)
}

func TestLoop_PostAfterCloseIsRejected(t *testing.T) {
	l := ui.NewLoop(zaptest.NewLogger(t))
	l.Close()
	assert.False(t, l.Post("late"))
	assert.Zero(t, l.Pending())
}

func TestLoop_RunDeliversCrossGoroutinePosts(t *testing.T) {
	l := ui.NewLoop(zaptest.NewLogger(t), ui.WithTick(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const posters, each = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < posters; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				l.Post([2]int{p, i})
			}
		}(p)
	}

	var owner int64
	lastSeen := make(map[int]int)
	count := 0
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx, func(msg any) {
			owner++
			pair := msg.([2]int)
			if prev, ok := lastSeen[pair[0]]; ok && pair[1] <= prev {
				t.Errorf("poster %d delivered %d after %d", pair[0], pair[1], prev)
			}
			lastSeen[pair[0]] = pair[1]
			count++
		})
	}()

	wg.Wait()
	l.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("loop did not finish draining")
	}
	assert.Equal(t, posters*each, count)
	assert.Equal(t, int64(posters*each), owner)
}

func TestLoop_RunStopsOnContextCancel(t *testing.T) {
	l := ui.NewLoop(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoop_Property_FIFO(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l := ui.NewLoop(zaptest.NewLogger(t))
		msgs := rapid.SliceOf(rapid.Int()).Draw(rt, "msgs")
		for _, m := range msgs {
			l.Post(m)
		}
		var got []int
		l.Drain(func(msg any) { got = append(got, msg.(int)) })
		if len(got) != len(msgs) {
			rt.Fatalf("got %d messages, want %d", len(got), len(msgs))
		}
		for i := range msgs {
			if got[i] != msgs[i] {
				rt.Fatalf("message %d: got %d want %d", i, got[i], msgs[i])
			}
		}
	})
}
