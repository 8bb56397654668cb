package socketmodeconnection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/slacknet/slacksdk/connection"
	"github.com/slacknet/slacksdk/connection/broker"
	"github.com/slacknet/slacksdk/connection/opener"
	"github.com/slacknet/slacksdk/connection/socketmessage"
	"github.com/slacknet/slacksdk/connection/transporter"
	"github.com/slacknet/slacksdk/logger"
)

func TestSocketModeConnection(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Socket Mode Connection Suite")
}

type fakeTransport struct {
	*transporter.MockTransporter
	inbound chan []byte
	done    chan struct{}

	// closed once Close has been called, sent receives every frame written
	closed    chan struct{}
	closeOnce sync.Once
	sent      chan []byte

	// blockDial makes Dial hang until its context gives up
	blockDial bool
}

func (f *fakeTransport) Dial(ctx context.Context) error {
	if f.blockDial {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.MockTransporter.Dial(ctx)
}

func (f *fakeTransport) die() {
	close(f.done)
}

// fakeFactory hands out a fresh happy transport for every Create and remembers them
type fakeFactory struct {
	lock       sync.Mutex
	transports []*fakeTransport
	dialErr    error
	blockDial  bool
}

func (f *fakeFactory) Create(id int64, connUrl string) (transporter.Transporter, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	t := &fakeTransport{
		MockTransporter: &transporter.MockTransporter{},
		inbound:         make(chan []byte, 10),
		done:            make(chan struct{}),
		closed:          make(chan struct{}),
		sent:            make(chan []byte, 10),
	}
	t.On("Id").Return(id)
	t.On("Dial").Return(f.dialErr)
	t.On("Inbound").Return(t.inbound)
	t.On("Done").Return(t.done)
	t.On("State").Return(transporter.Open)
	t.On("Err").Return(nil)
	t.On("Close").Run(func(mock.Arguments) {
		t.closeOnce.Do(func() { close(t.closed) })
	}).Return()
	t.On("Send", mock.Anything).Run(func(args mock.Arguments) {
		t.sent <- args.Get(0).([]byte)
	}).Return(nil)

	f.transports = append(f.transports, t)
	return t, nil
}

func (f *fakeFactory) Calls() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) Get(i int) *fakeTransport {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.transports[i]
}

var _ = Describe("Socket Mode Connection", func() {
	var conn *SocketModeConnection
	var mockOpener *opener.MockOpener
	var factory *fakeFactory

	logger := logger.MockLogger(GinkgoWriter)
	ctx := context.Background()
	fastPolicy := func() *ReconnectPolicy {
		return NewReconnectPolicy(10*time.Millisecond, 40*time.Millisecond, 2, time.Minute, nil)
	}

	hello := []byte(`{"type":"hello","num_connections":1}`)
	event := func(envelopeId string) []byte {
		return []byte(fmt.Sprintf(`{"type":"events_api","envelope_id":"%s","payload":{"type":"event_callback","event":{"type":"app_mention"}}}`, envelopeId))
	}

	BeforeEach(func() {
		mockOpener = &opener.MockOpener{}
		factory = &fakeFactory{}
	})

	AfterEach(func() {
		if conn != nil {
			conn.Close(fmt.Errorf("test over"))
		}
	})

	Context("Connect", func() {
		When("the platform hands out a url and the relay answers", func() {
			BeforeEach(func() {
				mockOpener.On("OpenConnection").Return(&opener.OpenResponse{Ok: true, Url: "wss://relay"}, nil)
				conn = New(logger, mockOpener, factory, WithBackoff(fastPolicy()))
			})

			It("opens exactly one transport", func() {
				Expect(conn.Connect(ctx)).To(Succeed())

				Expect(conn.State()).To(Equal(Open))
				Expect(conn.Connected()).To(BeTrue())
				Expect(conn.SocketId()).To(Equal(int64(1)))
				Expect(factory.Calls()).To(Equal(1))
			})

			It("closes the transport it replaces", func() {
				Expect(conn.Connect(ctx)).To(Succeed())
				Expect(conn.Connect(ctx)).To(Succeed())

				Expect(conn.SocketId()).To(Equal(int64(2)))
				Eventually(factory.Get(0).closed).Should(BeClosed())
				Consistently(factory.Get(1).closed, 50*time.Millisecond).ShouldNot(BeClosed())
			})

			It("keeps only one transport open under concurrent connects", func() {
				var wg sync.WaitGroup
				for i := 0; i < 5; i++ {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						Expect(conn.Connect(ctx)).To(Succeed())
					}()
				}
				wg.Wait()

				Expect(factory.Calls()).To(Equal(5))
				current := conn.SocketId()

				Eventually(func() []int64 {
					var open []int64
					for i := 0; i < factory.Calls(); i++ {
						select {
						case <-factory.Get(i).closed:
						default:
							open = append(open, int64(i+1))
						}
					}
					return open
				}).Should(Equal([]int64{current}))
			})
		})

		When("the platform refuses", func() {
			BeforeEach(func() {
				mockOpener.On("OpenConnection").Return(nil, &connection.OpenerError{Code: "invalid_auth"})
				conn = New(logger, mockOpener, factory, WithBackoff(fastPolicy()))
			})

			It("reports which stage failed", func() {
				err := conn.Connect(ctx)

				var connErr *connection.ConnectionError
				Expect(errors.As(err, &connErr)).To(BeTrue())
				Expect(connErr.Stage).To(Equal(connection.OpenConnectionStage))

				var openerErr *connection.OpenerError
				Expect(errors.As(err, &openerErr)).To(BeTrue())
				Expect(conn.State()).To(Equal(Disconnected))
				Expect(factory.Calls()).To(Equal(0))
			})
		})

		When("the relay cannot be dialed", func() {
			BeforeEach(func() {
				mockOpener.On("OpenConnection").Return(&opener.OpenResponse{Ok: true, Url: "wss://relay"}, nil)
				factory.dialErr = fmt.Errorf("connection refused")
				conn = New(logger, mockOpener, factory, WithBackoff(fastPolicy()))
			})

			It("reports a dial failure", func() {
				err := conn.Connect(ctx)

				var connErr *connection.ConnectionError
				Expect(errors.As(err, &connErr)).To(BeTrue())
				Expect(connErr.Stage).To(Equal(connection.DialStage))
				Expect(conn.Connected()).To(BeFalse())
			})
		})

		When("no transport can be built for the url", func() {
			var mockFactory *transporter.MockFactory

			BeforeEach(func() {
				mockOpener.On("OpenConnection").Return(&opener.OpenResponse{Ok: true, Url: "wss://relay"}, nil)
				mockFactory = &transporter.MockFactory{}
				mockFactory.On("Create", int64(1), "wss://relay").Return(nil, fmt.Errorf("unsupported scheme"))
				conn = New(logger, mockOpener, mockFactory, WithBackoff(fastPolicy()))
			})

			It("reports a transport failure", func() {
				err := conn.Connect(ctx)

				var connErr *connection.ConnectionError
				Expect(errors.As(err, &connErr)).To(BeTrue())
				Expect(connErr.Stage).To(Equal(connection.CreateTransportStage))
				Expect(conn.State()).To(Equal(Disconnected))
				mockFactory.AssertExpectations(GinkgoT())
			})
		})

		When("the handshake outlives its context", func() {
			BeforeEach(func() {
				mockOpener.On("OpenConnection").Return(&opener.OpenResponse{Ok: true, Url: "wss://relay"}, nil)
				factory.blockDial = true
				conn = New(logger, mockOpener, factory, WithBackoff(fastPolicy()))
			})

			It("gives up on the dial", func() {
				timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				defer cancel()

				err := conn.Connect(timeoutCtx)

				var connErr *connection.ConnectionError
				Expect(errors.As(err, &connErr)).To(BeTrue())
				Expect(connErr.Stage).To(Equal(connection.DialStage))
				Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
				Expect(conn.State()).To(Equal(Disconnected))
				Expect(factory.Get(0).closed).To(BeClosed())
			})
		})
	})

	Context("Receiving", func() {
		var sub *broker.Subscription

		BeforeEach(func() {
			mockOpener.On("OpenConnection").Return(&opener.OpenResponse{Ok: true, Url: "wss://relay"}, nil)
			conn = New(logger, mockOpener, factory, WithBackoff(fastPolicy()))
			sub = conn.Subscribe("test", 10)
			Expect(conn.Connect(ctx)).To(Succeed())
		})

		It("tags every message with the socket it arrived on", func() {
			factory.Get(0).inbound <- hello

			var message socketmessage.SocketMessage
			Eventually(sub.Messages()).Should(Receive(&message))
			Expect(message.Type).To(Equal(socketmessage.Hello))
			Expect(message.SocketId).To(Equal(int64(1)))
		})

		It("skips frames it cannot decode and keeps going", func() {
			factory.Get(0).inbound <- []byte(`not json`)
			factory.Get(0).inbound <- event("E1")

			var message socketmessage.SocketMessage
			Eventually(sub.Messages()).Should(Receive(&message))
			Expect(message.EnvelopeId).To(Equal("E1"))
			Expect(conn.Connected()).To(BeTrue())
		})

		It("reconnects when the transport dies and keeps the same stream", func() {
			factory.Get(0).inbound <- hello
			factory.Get(0).die()

			Eventually(factory.Calls).Should(Equal(2))
			Eventually(conn.State).Should(Equal(Open))

			factory.Get(1).inbound <- event("E2")

			var first, second socketmessage.SocketMessage
			Eventually(sub.Messages()).Should(Receive(&first))
			Eventually(sub.Messages()).Should(Receive(&second))
			Expect(first.Type).To(Equal(socketmessage.Hello))
			Expect(second.EnvelopeId).To(Equal("E2"))
			Expect(second.SocketId).To(Equal(int64(2)))
		})

		It("keeps reconnecting after a refresh request", func() {
			factory.Get(0).inbound <- []byte(`{"type":"disconnect","reason":"refresh_requested"}`)
			factory.Get(0).die()

			Eventually(factory.Calls).Should(Equal(2))
			Expect(conn.State()).ToNot(Equal(ShutDown))
		})

		When("the relay disables socket mode", func() {
			BeforeEach(func() {
				factory.Get(0).inbound <- []byte(`{"type":"disconnect","reason":"link_disabled"}`)
				factory.Get(0).die()
			})

			It("never reconnects", func() {
				Eventually(conn.State).Should(Equal(ShutDown))
				Consistently(factory.Calls, 200*time.Millisecond).Should(Equal(1))
			})

			It("still tells subscribers why", func() {
				var message socketmessage.SocketMessage
				Eventually(sub.Messages()).Should(Receive(&message))
				Expect(message.Reason).To(Equal(socketmessage.LinkDisabled))
			})

			It("refuses to connect again", func() {
				Eventually(conn.State).Should(Equal(ShutDown))
				Expect(conn.Connect(ctx)).To(MatchError(connection.ErrShutDown))
			})
		})
	})

	Context("after the relay disables socket mode", func() {
		BeforeEach(func() {
			mockOpener.On("OpenConnection").Return(&opener.OpenResponse{Ok: true, Url: "wss://relay"}, nil)
			conn = New(logger, mockOpener, factory, WithBackoff(fastPolicy()))
			Expect(conn.Connect(ctx)).To(Succeed())
			Expect(conn.Connect(ctx)).To(Succeed())

			factory.Get(1).inbound <- []byte(`{"type":"disconnect","reason":"link_disabled"}`)
			factory.Get(1).die()
			Eventually(conn.State).Should(Equal(ShutDown))
		})

		It("ignores every close that follows", func() {
			replaced := factory.Get(0)
			replaced.inbound <- []byte(`{"type":"disconnect","reason":"refresh_requested"}`)
			replaced.inbound <- []byte(`{"type":"disconnect","reason":"link_disabled"}`)
			replaced.die()

			Expect(conn.Connect(ctx)).To(MatchError(connection.ErrShutDown))
			Expect(conn.Connect(ctx)).To(MatchError(connection.ErrShutDown))

			Consistently(factory.Calls, 200*time.Millisecond).Should(Equal(2))
			Expect(conn.State()).To(Equal(ShutDown))
			Expect(conn.SocketId()).To(Equal(int64(0)))
		})
	})

	Context("Sending", func() {
		BeforeEach(func() {
			mockOpener.On("OpenConnection").Return(&opener.OpenResponse{Ok: true, Url: "wss://relay"}, nil)
			conn = New(logger, mockOpener, factory, WithBackoff(fastPolicy()))
			Expect(conn.Connect(ctx)).To(Succeed())
			Expect(conn.Connect(ctx)).To(Succeed())
		})

		It("acks on the socket the envelope arrived on", func() {
			conn.Send(socketmessage.Acknowledgement{EnvelopeId: "E1", SocketId: 1})

			var frame []byte
			Eventually(factory.Get(0).sent).Should(Receive(&frame))
			Expect(frame).To(MatchJSON(`{"envelope_id":"E1"}`))
			Consistently(factory.Get(1).sent, 50*time.Millisecond).ShouldNot(Receive())
		})

		It("falls back to the current socket", func() {
			conn.Send(socketmessage.Acknowledgement{EnvelopeId: "E9", SocketId: 42})

			var frame []byte
			Eventually(factory.Get(1).sent).Should(Receive(&frame))
			Expect(frame).To(MatchJSON(`{"envelope_id":"E9"}`))
		})
	})

	Context("Close", func() {
		var sub *broker.Subscription

		BeforeEach(func() {
			mockOpener.On("OpenConnection").Return(&opener.OpenResponse{Ok: true, Url: "wss://relay"}, nil)
			conn = New(logger, mockOpener, factory, WithBackoff(fastPolicy()))
			sub = conn.Subscribe("test", 10)
			Expect(conn.Connect(ctx)).To(Succeed())

			conn.Close(fmt.Errorf("bye"))
		})

		It("stops everything", func() {
			Eventually(conn.Done()).Should(BeClosed())
			Expect(conn.Err()).To(MatchError("bye"))
			Expect(conn.Connected()).To(BeFalse())
			Eventually(sub.Messages()).Should(BeClosed())
			Expect(factory.Get(0).closed).To(BeClosed())
		})

		It("does not reconnect", func() {
			Expect(conn.Connect(ctx)).To(MatchError(connection.ErrClosed))
			Expect(factory.Calls()).To(Equal(1))
		})
	})
})
