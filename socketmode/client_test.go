package socketmode

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/slacknet/slacksdk/connection"
	"github.com/slacknet/slacksdk/connection/opener"
	"github.com/slacknet/slacksdk/connection/socketmessage"
	"github.com/slacknet/slacksdk/connection/socketmodeconnection"
	"github.com/slacknet/slacksdk/logger"
	"github.com/slacknet/slacksdk/testutil"
)

func TestSocketMode(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Socket Mode Client Suite")
}

var _ = Describe("Socket Mode Client", func() {
	var relay *testutil.RelayServer
	var mockOpener *opener.MockOpener
	var client *Client
	var cancel context.CancelFunc
	var runErr chan error

	logger := logger.MockLogger(GinkgoWriter)

	fastOptions := []Option{
		WithConnectionDelay(10 * time.Millisecond),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond, 2, time.Minute),
		WithAckDeadline(100 * time.Millisecond),
	}

	start := func(opts ...Option) {
		var err error
		client, err = New(logger, "", append(append([]Option{WithOpener(mockOpener)}, fastOptions...), opts...)...)
		Expect(err).ToNot(HaveOccurred())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		runErr = make(chan error, 1)
		go func() {
			runErr <- client.Run(ctx)
		}()
	}

	// acks from the relay's point of view, by envelope id
	receiveAck := func() string {
		var frame []byte
		Eventually(relay.Received).Should(Receive(&frame))

		var ack socketmessage.Acknowledgement
		Expect(json.Unmarshal(frame, &ack)).To(Succeed())
		return ack.EnvelopeId
	}

	BeforeEach(func() {
		cancel = nil
		runErr = nil
		relay = testutil.NewRelayServer()
		mockOpener = &opener.MockOpener{}
		mockOpener.On("OpenConnection").Return(&opener.OpenResponse{Ok: true, Url: relay.Url}, nil)
	})

	AfterEach(func() {
		if cancel != nil {
			cancel()
		}
		if runErr != nil {
			Eventually(runErr, 5*time.Second).Should(Receive())
		}
		relay.Close()
	})

	It("needs an app token unless an opener is supplied", func() {
		_, err := New(logger, "")
		Expect(err).To(HaveOccurred())
	})

	It("opens every configured connection", func() {
		start(WithConnections(3))

		Eventually(relay.Connections).Should(Equal(3))
		for _, conn := range client.Connections() {
			Eventually(conn.State).Should(Equal(socketmodeconnection.Open))
		}
	})

	It("dispatches events and acknowledges them on the relay", func() {
		mentions := make(chan string, 1)
		start()
		client.Router().OnEvent("app_mention", func(ctx context.Context, event *socketmessage.EventsApiPayload) error {
			mentions <- event.EventId
			return nil
		})

		Eventually(relay.Connected).Should(Receive(Equal(0)))
		Expect(relay.Push(0, `{
			"type": "events_api",
			"envelope_id": "env-1",
			"payload": {"type": "event_callback", "event_id": "Ev1", "event": {"type": "app_mention"}}
		}`)).To(Succeed())

		Eventually(mentions).Should(Receive(Equal("Ev1")))
		Expect(receiveAck()).To(Equal("env-1"))
	})

	It("reconnects when the relay drops the connection", func() {
		start()
		Eventually(relay.Connected).Should(Receive(Equal(0)))

		relay.Drop(0)

		Eventually(relay.Connected, 2*time.Second).Should(Receive(Equal(1)))
		Eventually(client.Connections()[0].State).Should(Equal(socketmodeconnection.Open))
	})

	It("stops once the relay disables socket mode", func() {
		start()
		Eventually(relay.Connected).Should(Receive(Equal(0)))

		Expect(relay.Push(0, `{"type":"disconnect","reason":"link_disabled"}`)).To(Succeed())
		relay.Disconnect(0)

		var err error
		Eventually(runErr, 2*time.Second).Should(Receive(&err))
		Expect(errors.Is(err, connection.ErrShutDown)).To(BeTrue())
		Expect(relay.Connections()).To(Equal(1))
		runErr = nil
	})

	It("returns cleanly when its context is cancelled", func() {
		start()
		Eventually(relay.Connected).Should(Receive())

		cancel()

		Eventually(runErr, 2*time.Second).Should(Receive(BeNil()))
		Expect(client.Connections()[0].Connected()).To(BeFalse())
		runErr = nil
	})

	When("the platform refuses the token", func() {
		BeforeEach(func() {
			mockOpener = &opener.MockOpener{}
			mockOpener.On("OpenConnection").Return(nil, &connection.OpenerError{Code: "invalid_auth"})
		})

		It("gives up instead of retrying", func() {
			start()

			var err error
			Eventually(runErr, 2*time.Second).Should(Receive(&err))

			var openerErr *connection.OpenerError
			Expect(errors.As(err, &openerErr)).To(BeTrue())
			Expect(openerErr.Code).To(Equal("invalid_auth"))
			mockOpener.AssertNumberOfCalls(GinkgoT(), "OpenConnection", 1)
			runErr = nil
		})
	})
})
