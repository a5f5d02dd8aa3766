package util_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Raikerian/go-live-tutor/pkg/util"
)

func TestIdleTimer(t *testing.T) {
	t.Run("fires after interval", func(t *testing.T) {
		idle := util.NewIdleTimer(30 * time.Millisecond)
		defer idle.Stop()

		select {
		case <-idle.C():
		case <-time.After(time.Second):
			t.Fatal("idle timer did not fire")
		}
		assert.GreaterOrEqual(t, idle.IdleFor(), 30*time.Millisecond)
	})

	t.Run("touch postpones firing", func(t *testing.T) {
		idle := util.NewIdleTimer(50 * time.Millisecond)
		defer idle.Stop()

		done := make(chan struct{})
		go func() {
			defer close(done)
			ticker := time.NewTicker(20 * time.Millisecond)
			defer ticker.Stop()
			for i := 0; i < 5; i++ {
				<-ticker.C
				idle.Touch()
			}
		}()

		select {
		case <-idle.C():
			t.Fatal("idle timer fired while being touched")
		case <-done:
		}

		select {
		case <-idle.C():
		case <-time.After(time.Second):
			t.Fatal("idle timer did not fire after activity stopped")
		}
	})

	t.Run("touch rearms after a fire", func(t *testing.T) {
		idle := util.NewIdleTimer(10 * time.Millisecond)
		defer idle.Stop()

		for i := 0; i < 3; i++ {
			select {
			case <-idle.C():
				idle.Touch()
			case <-time.After(time.Second):
				t.Fatalf("fire %d never came", i)
			}
		}
	})

	t.Run("stop prevents firing", func(t *testing.T) {
		idle := util.NewIdleTimer(20 * time.Millisecond)
		idle.Stop()
		idle.Touch()
		idle.Stop()

		select {
		case <-idle.C():
			t.Fatal("idle timer fired after stop")
		case <-time.After(60 * time.Millisecond):
		}
	})
}
