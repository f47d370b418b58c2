package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tinymud/tinymud/internal/testutil"
)

type HubSuite struct {
	suite.Suite
	manager *HubManager
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) SetupTest() {
	s.manager = NewHubManager(testutil.NopLogger())
}

func (s *HubSuite) newSubscriber() *Session {
	return newSession(&fakeConn{}, testutil.NopLogger())
}

func (s *HubSuite) receive(sess *Session) []byte {
	select {
	case data := <-sess.send:
		return data
	case <-time.After(2 * time.Second):
		s.Require().FailNow("timed out waiting for broadcast")
		return nil
	}
}

func (s *HubSuite) TestBroadcastReachesAllSubscribers() {
	hub := s.manager.GetOrCreateHub("hall")
	a := s.newSubscriber()
	b := s.newSubscriber()
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast([]byte("hello"))

	s.Equal("hello", string(s.receive(a)))
	s.Equal("hello", string(s.receive(b)))
}

func (s *HubSuite) TestUnregisteredSessionStopsReceiving() {
	hub := s.manager.GetOrCreateHub("hall")
	a := s.newSubscriber()
	b := s.newSubscriber()
	hub.Register(a)
	hub.Register(b)
	hub.Unregister(b)

	hub.Broadcast([]byte("hello"))

	s.Equal("hello", string(s.receive(a)))
	select {
	case data := <-b.send:
		s.FailNowf("unsubscribed session received broadcast", "got %s", string(data))
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *HubSuite) TestGetOrCreateHubIsIdempotent() {
	first := s.manager.GetOrCreateHub("hall")
	second := s.manager.GetOrCreateHub("hall")
	s.Same(first, second)
}

func (s *HubSuite) TestGetHubForUnknownPlace() {
	s.Nil(s.manager.GetHub("nowhere"))
}

func (s *HubSuite) TestCleanupRemovesOnlyEmptyHubs() {
	empty := s.manager.GetOrCreateHub("empty.room")
	_ = empty

	occupied := s.manager.GetOrCreateHub("hall")
	sess := s.newSubscriber()
	occupied.Register(sess)

	s.manager.CleanupEmptyHubs()

	s.Nil(s.manager.GetHub("empty.room"))
	s.Same(occupied, s.manager.GetHub("hall"))
}

func (s *HubSuite) TestRegisterAfterCleanupDoesNotBlock() {
	hub := s.manager.GetOrCreateHub("hall")
	s.manager.CleanupEmptyHubs()

	// A stale hub pointer obtained before cleanup must refuse the
	// subscription instead of blocking the caller forever
	accepted := make(chan bool, 1)
	go func() { accepted <- hub.Register(s.newSubscriber()) }()

	select {
	case ok := <-accepted:
		s.False(ok, "closed hubs must refuse subscriptions")
	case <-time.After(time.Second):
		s.Require().FailNow("Register blocked on a cleaned-up hub")
	}
}

func (s *HubSuite) TestSubscribeRecreatesCleanedUpHub() {
	stale := s.manager.GetOrCreateHub("hall")
	s.manager.CleanupEmptyHubs()

	sess := s.newSubscriber()
	fresh := s.manager.Subscribe("hall", sess)

	s.NotSame(stale, fresh)
	s.Equal(1, fresh.SubscriberCount())

	fresh.Broadcast([]byte("hello"))
	s.Equal("hello", string(s.receive(sess)))
}

func (s *HubSuite) TestUnsubscribeAfterCleanupIsNoOp() {
	hub := s.manager.GetOrCreateHub("hall")
	sess := s.newSubscriber()
	hub.Register(sess)
	hub.Unregister(sess)
	s.manager.CleanupEmptyHubs()

	s.manager.Unsubscribe("hall", sess)
	hub.Unregister(sess)
}

func (s *HubSuite) TestSlowSubscriberDoesNotBlockOthers() {
	hub := s.manager.GetOrCreateHub("hall")
	slow := s.newSubscriber()
	fast := s.newSubscriber()
	hub.Register(slow)
	hub.Register(fast)

	// Overflow both queues, then wait for the hub to finish the burst
	for i := 0; i < sendQueueSize+10; i++ {
		hub.Broadcast([]byte("spam"))
	}
	s.Require().Eventually(func() bool {
		return len(hub.broadcast) == 0 && len(slow.send) == sendQueueSize
	}, 2*time.Second, 10*time.Millisecond)

	// The fast session frees a slot and keeps receiving; the slow one
	// stays full and just misses the update
	<-fast.send
	hub.Broadcast([]byte("final"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-fast.send:
			if string(data) == "final" {
				s.Equal(sendQueueSize, len(slow.send))
				return
			}
		case <-deadline:
			s.Require().FailNow("fast session never received the final broadcast")
		}
	}
}
