package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/saviobatista/atc-online/internal/redis"
	"github.com/saviobatista/atc-online/internal/types"
)

// ErrSubscriptionClosed is returned by Receive on a closed FakeSubscription
var ErrSubscriptionClosed = errors.New("subscription closed")

// MockPilotRecord creates a mock pilot record for testing
func MockPilotRecord(callsign string) *types.PilotRecord {
	return &types.PilotRecord{
		CID:           1234567,
		Name:          "Test Pilot",
		Callsign:      callsign,
		Aircraft:      "B738/L",
		Dep:           "KPHX",
		Dest:          "KABQ",
		Code:          "4521",
		Lat:           33.4342,
		Lng:           -112.0116,
		Altitude:      24000,
		Heading:       75,
		Speed:         420,
		PlannedCruise: "FL240",
		Route:         "ZEPER2 ZEPER DCT ABQ",
		Remarks:       "/v/",
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
		}
	}
}

// FakePubSub is an in-process pub/sub. Publish keeps delivering to
// subscriptions after they are closed, like a server that has not yet
// processed the unsubscribe.
type FakePubSub struct {
	mu   sync.Mutex
	subs []*FakeSubscription

	// SubscribeErr, when set, fails every Subscribe call
	SubscribeErr error
}

// Subscribe opens a new fake subscription
func (f *FakePubSub) Subscribe(ctx context.Context, channels ...string) (redis.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}

	sub := &FakeSubscription{
		channels: make(map[string]bool, len(channels)),
		ch:       make(chan *types.Notification, 64),
		closed:   make(chan struct{}),
	}
	for _, c := range channels {
		sub.channels[c] = true
	}
	f.subs = append(f.subs, sub)
	return sub, nil
}

// Publish delivers a notification to every subscription of the channel
func (f *FakePubSub) Publish(ctx context.Context, channel, payload string) error {
	f.Deliver(channel, payload)
	return nil
}

// Deliver is Publish without a context, returning the receiver count
func (f *FakePubSub) Deliver(channel, payload string) int {
	f.mu.Lock()
	subs := append([]*FakeSubscription(nil), f.subs...)
	f.mu.Unlock()

	n := 0
	for _, sub := range subs {
		if !sub.channels[channel] {
			continue
		}
		select {
		case sub.ch <- &types.Notification{Channel: channel, Payload: payload}:
			n++
		default:
		}
	}
	return n
}

// Subscriptions returns every subscription opened so far
func (f *FakePubSub) Subscriptions() []*FakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSubscription(nil), f.subs...)
}

// Open returns the number of subscriptions not yet closed
func (f *FakePubSub) Open() int {
	n := 0
	for _, sub := range f.Subscriptions() {
		if !sub.Closed() {
			n++
		}
	}
	return n
}

// FakeSubscription is a subscription opened on a FakePubSub
type FakeSubscription struct {
	channels  map[string]bool
	ch        chan *types.Notification
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *FakeSubscription) Receive(ctx context.Context) (*types.Notification, error) {
	select {
	case <-s.closed:
		return nil, ErrSubscriptionClosed
	default:
	}

	select {
	case n := <-s.ch:
		return n, nil
	case <-s.closed:
		return nil, ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *FakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether Close has been called
func (s *FakeSubscription) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// FakeTransport records every message sent to it
type FakeTransport struct {
	mu       sync.Mutex
	messages [][]byte
	sendErr  error
	block    chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewFakeTransport creates a transport that accepts every message
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{done: make(chan struct{})}
}

// FailSends makes every following Send return err
func (t *FakeTransport) FailSends(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// BlockSends makes Send hang until release is closed or the transport is
// closed
func (t *FakeTransport) BlockSends(release chan struct{}) {
	t.mu.Lock()
	t.block = release
	t.mu.Unlock()
}

func (t *FakeTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	block := t.block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-t.done:
			return errors.New("transport closed")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.messages = append(t.messages, append([]byte(nil), data...))
	return nil
}

func (t *FakeTransport) Done() <-chan struct{} {
	return t.done
}

func (t *FakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// Disconnect simulates the client going away
func (t *FakeTransport) Disconnect() {
	_ = t.Close()
}

func (t *FakeTransport) Kind() string {
	return "fake"
}

// Messages returns a copy of the messages sent so far
func (t *FakeTransport) Messages() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.messages...)
}

// WaitForMessages waits until at least n messages were sent
func (t *FakeTransport) WaitForMessages(n int, timeout time.Duration) error {
	return WaitForCondition(func() bool { return len(t.Messages()) >= n }, timeout)
}

// MemoryStore is an in-memory stand-in for the Redis client. Publish and
// Subscribe go through the embedded FakePubSub.
type MemoryStore struct {
	FakePubSub

	mu          sync.Mutex
	pilots      map[string]types.PilotRecord
	atis        map[string]types.AtisRecord
	lists       map[string][]string
	metars      map[string]string
	controllers []types.ControllerPosition

	// PilotErr, when set, is consulted before every GetPilot
	PilotErr func(callsign string) error
	// DeleteErr, when set, is consulted before every DeletePilot
	DeleteErr func(callsign string) error
	pingErr  error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pilots: make(map[string]types.PilotRecord),
		atis:   make(map[string]types.AtisRecord),
		lists:  make(map[string][]string),
		metars: make(map[string]string),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

// SetPingErr makes Ping fail with err
func (m *MemoryStore) SetPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *MemoryStore) StorePilot(ctx context.Context, pilot *types.PilotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pilots[pilot.Callsign] = *pilot
	return nil
}

func (m *MemoryStore) GetPilot(ctx context.Context, callsign string) (*types.PilotRecord, error) {
	m.mu.Lock()
	hook := m.PilotErr
	m.mu.Unlock()
	if hook != nil {
		if err := hook(callsign); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pilots[callsign]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) DeletePilot(ctx context.Context, callsign string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		if err := m.DeleteErr(callsign); err != nil {
			return err
		}
	}
	delete(m.pilots, callsign)
	return nil
}

func (m *MemoryStore) StoreAtis(ctx context.Context, atis *types.AtisRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.atis[atis.Station] = *atis
	return nil
}

func (m *MemoryStore) GetAtis(ctx context.Context, station string) (*types.AtisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.atis[station]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryStore) DeleteAtis(ctx context.Context, station string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.atis, station)
	return nil
}

// ExpireAtis drops an ATIS record as if its TTL ran out
func (m *MemoryStore) ExpireAtis(station string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.atis, station)
}

func (m *MemoryStore) AddActiveAtis(ctx context.Context, station string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.lists[redis.KeyAtis] {
		if s == station {
			return nil
		}
	}
	m.lists[redis.KeyAtis] = append(m.lists[redis.KeyAtis], station)
	return nil
}

func (m *MemoryStore) ActiveAtis(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := []string{}
	for _, s := range m.lists[redis.KeyAtis] {
		if _, ok := m.atis[s]; ok {
			active = append(active, s)
		}
	}
	return active, nil
}

func (m *MemoryStore) GetList(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.lists[key]...), nil
}

func (m *MemoryStore) SetList(ctx context.Context, key string, items []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([]string{}, items...)
	return nil
}

func (m *MemoryStore) SetMetar(ctx context.Context, station, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metars[redis.MetarKey(station)] = raw
	return nil
}

func (m *MemoryStore) GetMetar(ctx context.Context, station string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.metars[redis.MetarKey(station)]
	return raw, ok, nil
}

func (m *MemoryStore) SetControllers(ctx context.Context, controllers []types.ControllerPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers = append([]types.ControllerPosition{}, controllers...)
	return nil
}

func (m *MemoryStore) GetControllers(ctx context.Context) ([]types.ControllerPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ControllerPosition{}, m.controllers...), nil
}
