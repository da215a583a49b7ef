package notify

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/bryanchriswhite/LandmarkLens/internal/logger"
)

func TestPushDeduplicatesWhileVisible(t *testing.T) {
	logger.Silence()
	clk := clock.NewMock()
	c := NewCenter(clk, 0)

	first, created := c.Push("server unreachable")
	test.That(t, created, test.ShouldBeTrue)
	test.That(t, first.ID, test.ShouldNotBeEmpty)

	again, created := c.Push("server unreachable")
	test.That(t, created, test.ShouldBeFalse)
	test.That(t, again.ID, test.ShouldEqual, first.ID)
	test.That(t, c.Active(), test.ShouldHaveLength, 1)

	clk.Add(DefaultTTL)
	test.That(t, c.Active(), test.ShouldHaveLength, 0)

	_, created = c.Push("server unreachable")
	test.That(t, created, test.ShouldBeTrue)
}

func TestSubscribersReceiveToasts(t *testing.T) {
	logger.Silence()
	c := NewCenter(clock.NewMock(), time.Second)
	ch := c.Subscribe()

	c.Push("capture failed")
	select {
	case toast := <-ch:
		test.That(t, toast.Text, test.ShouldEqual, "capture failed")
	case <-time.After(time.Second):
		t.Fatal("no toast delivered")
	}

	c.Unsubscribe(ch)
	_, open := <-ch
	test.That(t, open, test.ShouldBeFalse)
}
