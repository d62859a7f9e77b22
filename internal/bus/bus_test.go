package bus

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/dkeye/MeetRecorder/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestAddresses(t *testing.T) {
	a := MonitorAddr(42)
	tab, ok := MonitorTab(a)
	require.True(t, ok)
	assert.Equal(t, domain.TabID(42), tab)

	_, ok = MonitorTab(CaptureAddr("abc"))
	assert.False(t, ok)
	_, ok = MonitorTab("monitor/x")
	assert.False(t, ok)
}

func TestRegisterTwice(t *testing.T) {
	b := New(time.Second)
	mb, err := b.Register(Orchestrator, 1)
	require.NoError(t, err)

	_, err = b.Register(Orchestrator, 1)
	assert.ErrorIs(t, err, ErrAddressInUse)

	mb.Close()
	mb.Close()
	assert.False(t, b.Registered(Orchestrator))

	_, err = b.Register(Orchestrator, 1)
	assert.NoError(t, err)
}

func TestSendNoReceiver(t *testing.T) {
	b := New(time.Second)
	err := b.Send(Orchestrator, MonitorAddr(1), protocol.CaptureTick, protocol.Tick{})
	assert.ErrorIs(t, err, ErrNoReceiver)
	assert.ErrorIs(t, err, domain.ErrUnresponsive)
}

func TestSendFull(t *testing.T) {
	b := New(time.Second)
	_, err := b.Register(Orchestrator, 1)
	require.NoError(t, err)

	require.NoError(t, b.Send("x", Orchestrator, protocol.Ping, nil))
	assert.ErrorIs(t, b.Send("x", Orchestrator, protocol.Ping, nil), ErrMailboxFull)
}

func TestRequestReply(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := New(time.Second)
	mb, err := b.Register(MonitorAddr(3), 4)
	require.NoError(t, err)
	defer mb.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := <-mb.C()
		assert.True(t, msg.ExpectsReply())
		assert.Equal(t, protocol.MuteStatusQuery, msg.Type)
		msg.Respond(protocol.Reply{OK: true, Muted: true})
		msg.Respond(protocol.Reply{OK: false})
	}()

	r, err := b.Request(context.Background(), CaptureAddr("c1"), MonitorAddr(3), protocol.MuteStatusQuery, nil)
	require.NoError(t, err)
	assert.True(t, r.OK)
	assert.True(t, r.Muted)
	<-done
}

func TestRequestTimeout(t *testing.T) {
	b := New(20 * time.Millisecond)
	_, err := b.Register(CaptureAddr("dead"), 1)
	require.NoError(t, err)

	_, err = b.Request(context.Background(), Orchestrator, CaptureAddr("dead"), protocol.Ping, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, domain.ReasonUnresponsive, domain.ReasonOf(err))
}

func TestRequestCancelled(t *testing.T) {
	b := New(time.Second)
	_, err := b.Register(CaptureAddr("slow"), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Request(ctx, Orchestrator, CaptureAddr("slow"), protocol.Ping, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRespondFireAndForget(t *testing.T) {
	var m Message
	assert.False(t, m.ExpectsReply())
	m.Respond(protocol.OK())
}

func TestMonitors(t *testing.T) {
	b := New(time.Second)
	for _, a := range []Address{MonitorAddr(1), MonitorAddr(2), Orchestrator, CaptureAddr("c")} {
		_, err := b.Register(a, 1)
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []Address{MonitorAddr(1), MonitorAddr(2)}, b.Monitors())
}
