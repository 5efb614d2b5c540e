package testutils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saviobatista/atc-online/internal/types"
)

func TestMockPilotRecord(t *testing.T) {
	p := MockPilotRecord("N123AB")
	if p.Callsign != "N123AB" {
		t.Errorf("Expected callsign N123AB, got %s", p.Callsign)
	}
	if p.Dep == "" || p.Dest == "" {
		t.Error("Mock pilot should carry a flight plan")
	}
}

func TestWaitForCondition(t *testing.T) {
	start := time.Now()
	err := WaitForCondition(func() bool { return time.Since(start) > 30*time.Millisecond }, time.Second)
	if err != nil {
		t.Errorf("WaitForCondition() failed: %v", err)
	}

	err = WaitForCondition(func() bool { return false }, 50*time.Millisecond)
	if err == nil {
		t.Error("WaitForCondition() should time out")
	}
}

func TestFakePubSub_DeliversByChannel(t *testing.T) {
	ps := &FakePubSub{}
	ctx := context.Background()

	pilots, _ := ps.Subscribe(ctx, types.ChannelPilotUpdate)
	atis, _ := ps.Subscribe(ctx, types.ChannelAtisUpdate)

	if n := ps.Deliver(types.ChannelPilotUpdate, "N123AB"); n != 1 {
		t.Fatalf("Expected 1 receiver, got %d", n)
	}

	n, err := pilots.Receive(ctx)
	if err != nil || n.Payload != "N123AB" {
		t.Fatalf("Receive() = %+v, %v", n, err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := atis.Receive(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected ATIS subscription to stay empty, got %v", err)
	}
}

func TestFakePubSub_KeepsDeliveringAfterClose(t *testing.T) {
	ps := &FakePubSub{}
	sub, _ := ps.Subscribe(context.Background(), types.ChannelPilotDelete)
	_ = sub.Close()

	if n := ps.Deliver(types.ChannelPilotDelete, "N123AB"); n != 1 {
		t.Errorf("Expected closed subscription to still be offered the message, got %d", n)
	}
	if _, err := sub.Receive(context.Background()); !errors.Is(err, ErrSubscriptionClosed) {
		t.Errorf("Expected ErrSubscriptionClosed, got %v", err)
	}
	if ps.Open() != 0 {
		t.Errorf("Expected no open subscriptions, got %d", ps.Open())
	}
}

func TestFakeTransport(t *testing.T) {
	tr := NewFakeTransport()
	ctx := context.Background()

	if err := tr.Send(ctx, []byte("a")); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	tr.FailSends(errors.New("broken pipe"))
	if err := tr.Send(ctx, []byte("b")); err == nil {
		t.Error("Send() should fail after FailSends")
	}
	if len(tr.Messages()) != 1 {
		t.Errorf("Expected 1 message, got %d", len(tr.Messages()))
	}

	tr.Disconnect()
	select {
	case <-tr.Done():
	default:
		t.Error("Done() should be closed after Disconnect")
	}
}

func TestFakeTransport_BlockedSendReleasedByClose(t *testing.T) {
	tr := NewFakeTransport()
	tr.BlockSends(make(chan struct{}))

	errc := make(chan error, 1)
	go func() { errc <- tr.Send(context.Background(), []byte("x")) }()

	time.Sleep(20 * time.Millisecond)
	_ = tr.Close()

	select {
	case err := <-errc:
		if err == nil {
			t.Error("Blocked Send() should fail when the transport closes")
		}
	case <-time.After(time.Second):
		t.Fatal("Send() still blocked after Close()")
	}
}

func TestMemoryStore_ActiveAtisFiltersExpired(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	for _, st := range []string{"KPHX", "KABQ"} {
		_ = m.StoreAtis(ctx, &types.AtisRecord{Station: st, Letter: "A"}, time.Minute)
		_ = m.AddActiveAtis(ctx, st, time.Minute)
	}
	m.ExpireAtis("KPHX")

	active, _ := m.ActiveAtis(ctx)
	if len(active) != 1 || active[0] != "KABQ" {
		t.Errorf("Expected [KABQ], got %v", active)
	}
}
