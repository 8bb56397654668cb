package socketmodeconnection

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

var _ = Describe("Reconnect Policy", func() {
	var clock *fakeClock
	var policy *ReconnectPolicy

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		policy = NewReconnectPolicy(DefaultInitialInterval, DefaultMaxInterval, DefaultMultiplier, DefaultResetAfter, clock)
	})

	next := func() time.Duration {
		d := policy.NextBackOff()
		clock.Advance(d)
		return d
	}

	It("doubles up to the cap", func() {
		Expect(next()).To(Equal(1 * time.Second))
		Expect(next()).To(Equal(2 * time.Second))
		Expect(next()).To(Equal(4 * time.Second))
		Expect(next()).To(Equal(5 * time.Second))
		Expect(next()).To(Equal(5 * time.Second))
	})

	It("never gives up", func() {
		for i := 0; i < 1000; i++ {
			Expect(next()).To(BeNumerically(">", 0))
		}
	})

	It("starts over after five quiet minutes", func() {
		next()
		next()
		next()

		clock.Advance(DefaultResetAfter)
		Expect(next()).To(Equal(1 * time.Second))
		Expect(next()).To(Equal(2 * time.Second))
	})

	It("does not start over for shorter gaps", func() {
		next()
		next()

		clock.Advance(DefaultResetAfter - time.Minute)
		Expect(next()).To(Equal(4 * time.Second))
	})

	It("can be reset by hand", func() {
		next()
		next()

		policy.Reset()
		Expect(next()).To(Equal(1 * time.Second))
	})
})

var _ = Describe("State", func() {
	DescribeTable("String",
		func(state State, expected string) {
			Expect(state.String()).To(Equal(expected))
		},
		Entry("disconnected", Disconnected, "Disconnected"),
		Entry("connecting", Connecting, "Connecting"),
		Entry("open", Open, "Open"),
		Entry("closing", Closing, "Closing"),
		Entry("shut down", ShutDown, "ShutDown"),
		Entry("unknown", State(42), "Unknown"),
	)
})
