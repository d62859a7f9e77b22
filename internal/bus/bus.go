// Package bus routes messages between isolated contexts. Each context owns a
// mailbox and is only reachable through Send (fire-and-forget) or Request
// (single reply with a timeout).
package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/MeetRecorder/internal/domain"
	"github.com/dkeye/MeetRecorder/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoReceiver   = fmt.Errorf("no receiver: %w", domain.ErrUnresponsive)
	ErrTimeout      = fmt.Errorf("reply timeout: %w", domain.ErrUnresponsive)
	ErrMailboxFull  = errors.New("mailbox full")
	ErrAddressInUse = errors.New("address already registered")
)

type Address string

const Orchestrator Address = "orchestrator"

const (
	monitorPrefix = "monitor/"
	capturePrefix = "capture/"
)

func MonitorAddr(tab domain.TabID) Address {
	return Address(monitorPrefix + strconv.Itoa(int(tab)))
}

func CaptureAddr(id domain.ContextID) Address {
	return Address(capturePrefix + string(id))
}

// MonitorTab recovers the tab id from a monitor address.
func MonitorTab(a Address) (domain.TabID, bool) {
	s, ok := strings.CutPrefix(string(a), monitorPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return domain.TabID(n), true
}

// Message is delivered to a mailbox. Payload holds one of the protocol structs.
type Message struct {
	Type    protocol.Event
	From    Address
	Payload any

	reply chan protocol.Reply
	once  *sync.Once
}

func (m Message) ExpectsReply() bool { return m.reply != nil }

// Respond answers a request. Only the first answer is delivered; answering a
// fire-and-forget message is a no-op.
func (m Message) Respond(r protocol.Reply) {
	if m.reply == nil {
		return
	}
	m.once.Do(func() { m.reply <- r })
}

type Bus struct {
	mu      sync.RWMutex
	boxes   map[Address]*Mailbox
	timeout time.Duration
}

func New(timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Bus{boxes: make(map[Address]*Mailbox), timeout: timeout}
}

type Mailbox struct {
	addr Address
	ch   chan Message
	bus  *Bus
	once sync.Once
}

func (m *Mailbox) Addr() Address             { return m.addr }
func (m *Mailbox) C() <-chan Message         { return m.ch }
func (m *Mailbox) Close()                    { m.once.Do(func() { m.bus.unregister(m) }) }
func (m *Mailbox) Pending() int              { return len(m.ch) }
func (m *Mailbox) String() string            { return string(m.addr) }
func (b *Bus) DefaultTimeout() time.Duration { return b.timeout }

// Register claims addr. The mailbox stays reachable until Close.
func (b *Bus) Register(addr Address, size int) (*Mailbox, error) {
	if size <= 0 {
		size = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.boxes[addr]; ok {
		return nil, fmt.Errorf("%s: %w", addr, ErrAddressInUse)
	}
	mb := &Mailbox{addr: addr, ch: make(chan Message, size), bus: b}
	b.boxes[addr] = mb
	log.Debug().Str("module", "bus").Str("addr", string(addr)).Msg("registered")
	return mb, nil
}

func (b *Bus) unregister(mb *Mailbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.boxes[mb.addr]; ok && cur == mb {
		delete(b.boxes, mb.addr)
		log.Debug().Str("module", "bus").Str("addr", string(mb.addr)).Msg("unregistered")
	}
}

func (b *Bus) Registered(addr Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.boxes[addr]
	return ok
}

// Monitors lists the addresses of every registered tab monitor.
func (b *Bus) Monitors() []Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Address, 0, len(b.boxes))
	for addr := range b.boxes {
		if strings.HasPrefix(string(addr), monitorPrefix) {
			out = append(out, addr)
		}
	}
	return out
}

func (b *Bus) deliver(to Address, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mb, ok := b.boxes[to]
	if !ok {
		return fmt.Errorf("%s: %w", to, ErrNoReceiver)
	}
	select {
	case mb.ch <- msg:
		return nil
	default:
		return fmt.Errorf("%s: %w", to, ErrMailboxFull)
	}
}

// Send delivers a fire-and-forget message.
func (b *Bus) Send(from, to Address, ev protocol.Event, payload any) error {
	return b.deliver(to, Message{Type: ev, From: from, Payload: payload})
}

// Request delivers a message and waits for its single reply. A missing
// receiver or an expired timeout both surface as domain.ErrUnresponsive.
func (b *Bus) Request(ctx context.Context, from, to Address, ev protocol.Event, payload any) (protocol.Reply, error) {
	return b.RequestTimeout(ctx, b.timeout, from, to, ev, payload)
}

func (b *Bus) RequestTimeout(ctx context.Context, timeout time.Duration, from, to Address, ev protocol.Event, payload any) (protocol.Reply, error) {
	reply := make(chan protocol.Reply, 1)
	msg := Message{Type: ev, From: from, Payload: payload, reply: reply, once: &sync.Once{}}
	if err := b.deliver(to, msg); err != nil {
		return protocol.Reply{}, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-reply:
		return r, nil
	case <-t.C:
		return protocol.Reply{}, fmt.Errorf("%s %s: %w", to, ev, ErrTimeout)
	case <-ctx.Done():
		return protocol.Reply{}, ctx.Err()
	}
}
