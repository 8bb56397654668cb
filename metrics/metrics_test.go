package metrics

import (
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Suite")
}

var _ = Describe("Metrics", func() {
	var m *Metrics

	BeforeEach(func() {
		m = New()
	})

	It("registers every collector once", func() {
		registry := prometheus.NewRegistry()
		Expect(m.Register(registry)).To(Succeed())
		Expect(m.Register(registry)).ToNot(Succeed())
	})

	It("counts connect attempts by result", func() {
		m.RecordConnectAttempt("0", nil)
		m.RecordConnectAttempt("0", fmt.Errorf("nope"))
		m.RecordConnectAttempt("0", fmt.Errorf("nope"))

		Expect(testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("0", "success"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("0", "failure"))).To(Equal(2.0))
	})

	It("only counts failed handlers as errors", func() {
		m.RecordHandler("events_api", time.Millisecond, nil)
		m.RecordHandler("events_api", time.Millisecond, fmt.Errorf("boom"))

		Expect(testutil.ToFloat64(m.HandlerErrors.WithLabelValues("events_api"))).To(Equal(1.0))
	})

	It("tracks the connection state", func() {
		m.SetConnectionState("1", 2)
		Expect(testutil.ToFloat64(m.ConnectionState.WithLabelValues("1"))).To(Equal(2.0))
	})

	It("observes handler durations in seconds", func() {
		m.RecordHandler("slash_commands", 1500*time.Millisecond, nil)

		observer, err := m.HandlerDuration.GetMetricWithLabelValues("slash_commands")
		Expect(err).ToNot(HaveOccurred())

		var out dto.Metric
		Expect(observer.(prometheus.Metric).Write(&out)).To(Succeed())
		Expect(out.GetHistogram().GetSampleCount()).To(Equal(uint64(1)))
		Expect(out.GetHistogram().GetSampleSum()).To(Equal(1.5))
	})

	It("is safe to use when nil", func() {
		var nilMetrics *Metrics
		Expect(func() {
			nilMetrics.RecordReconnect()
			nilMetrics.RecordAck(nil)
			nilMetrics.RecordDrop("x")
			nilMetrics.RecordDecodeError()
			nilMetrics.RecordTerminalShutdown()
			nilMetrics.RecordMessage("hello")
			nilMetrics.SetConnectionState("0", 1)
		}).ToNot(Panic())
	})
})
