package nbe

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/resource"
)

func newTestDispatcher(t *testing.T, proto *MockProtocol, pub *MockMQTTClient, queueSize int) (*Dispatcher, *mockHistory) {
	t.Helper()
	history := &mockHistory{}
	d := NewDispatcher(DispatcherConfig{
		Registry:  testRegistry(t),
		Guard:     NewGuard(proto),
		Publisher: pub,
		QueueSize: queueSize,
		Cache:     NewValueCache(),
		History:   history,
	})
	return d, history
}

func TestHandle_ConfirmedClimateWrite(t *testing.T) {
	proto := NewMockProtocol()
	pub := NewMockMQTTClient()
	d, history := newTestDispatcher(t, proto, pub, 0)

	ev := NewCommandEvent("dev123/setpoint/set", []byte("70"))
	if err := d.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got := proto.getWrites(); !reflect.DeepEqual(got, []mockWrite{{Key: "op.setpoint", Value: "70"}}) {
		t.Errorf("writes = %+v", got)
	}
	if got := pub.PublishedTo("dev123/setpoint/state"); !reflect.DeepEqual(got, []string{"70"}) {
		t.Errorf("state = %v, want [70]", got)
	}

	records := history.get()
	if len(records) != 1 || records[0].Source != SourceCommand || records[0].CommandID != ev.ID {
		t.Errorf("history = %+v", records)
	}
	if d.Stats().Applied != 1 {
		t.Errorf("Applied = %d, want 1", d.Stats().Applied)
	}
}

func TestHandle_PayloadPublishedVerbatim(t *testing.T) {
	proto := NewMockProtocol()
	pub := NewMockMQTTClient()
	d, _ := newTestDispatcher(t, proto, pub, 0)

	if err := d.Handle(context.Background(), NewCommandEvent("dev123/setpoint/set", []byte("72.0"))); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got := proto.getWrites()[0].Value; got != "72" {
		t.Errorf("device value = %q, want 72", got)
	}
	if got := pub.PublishedTo("dev123/setpoint/state"); !reflect.DeepEqual(got, []string{"72.0"}) {
		t.Errorf("state = %v, want [72.0]", got)
	}
}

func TestHandle_SwitchUsesGuardedWrite(t *testing.T) {
	proto := NewMockProtocol()
	pub := NewMockMQTTClient()
	d, _ := newTestDispatcher(t, proto, pub, 0)

	if err := d.Handle(context.Background(), NewCommandEvent("dev123/burner/set", []byte("ON"))); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got := proto.getWrites(); !reflect.DeepEqual(got, []mockWrite{{Key: "misc.start", Value: "1"}}) {
		t.Errorf("writes = %+v", got)
	}
	if got := pub.PublishedTo("dev123/burner/state"); !reflect.DeepEqual(got, []string{"ON"}) {
		t.Errorf("state = %v, want [ON]", got)
	}
}

func TestHandle_NothingPublishedOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *MockProtocol)
		payload string
		wantErr error
	}{
		{
			name:    "unconfirmed",
			setup:   func(p *MockProtocol) { p.setConfirmed(false) },
			payload: "70",
			wantErr: ErrNotConfirmed,
		},
		{
			name:    "device error",
			setup:   func(p *MockProtocol) { p.writeErr = errors.New("bad pin") },
			payload: "70",
			wantErr: ErrDevice,
		},
		{
			name:    "invalid value",
			setup:   func(*MockProtocol) {},
			payload: "hot",
			wantErr: resource.ErrInvalidValue,
		},
		{
			name:    "out of bounds",
			setup:   func(*MockProtocol) {},
			payload: "90",
			wantErr: resource.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proto := NewMockProtocol()
			tt.setup(proto)
			pub := NewMockMQTTClient()
			d, history := newTestDispatcher(t, proto, pub, 0)

			err := d.Handle(context.Background(), NewCommandEvent("dev123/setpoint/set", []byte(tt.payload)))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Handle() error = %v, want %v", err, tt.wantErr)
			}
			if len(pub.GetPublished()) != 0 {
				t.Errorf("published %+v on failure", pub.GetPublished())
			}
			if len(history.get()) != 0 {
				t.Error("history recorded on failure")
			}
			if d.Stats().Failed != 1 {
				t.Errorf("Failed = %d, want 1", d.Stats().Failed)
			}
		})
	}
}

func TestHandle_GuardBusy(t *testing.T) {
	proto := NewMockProtocol("op.temp=1")
	proto.entered = make(chan struct{}, 1)
	proto.block = make(chan struct{})
	pub := NewMockMQTTClient()
	d, _ := newTestDispatcher(t, proto, pub, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.guard.WithDevice(context.Background(), "query", queryOp)
	}()
	<-proto.entered

	err := d.Handle(context.Background(), NewCommandEvent("dev123/setpoint/set", []byte("70")))
	if !errors.Is(err, ErrGuardBusy) {
		t.Errorf("Handle() error = %v, want ErrGuardBusy", err)
	}
	if len(pub.GetPublished()) != 0 {
		t.Error("published while guard busy")
	}

	close(proto.block)
	<-done
}

func TestHandle_UnknownTopicIgnored(t *testing.T) {
	proto := NewMockProtocol()
	pub := NewMockMQTTClient()
	d, _ := newTestDispatcher(t, proto, pub, 0)

	for _, topic := range []string{"dev123/temperature/set", "dev123/nothing/set"} {
		err := d.Handle(context.Background(), NewCommandEvent(topic, []byte("1")))
		if !errors.Is(err, resource.ErrNotFound) {
			t.Errorf("Handle(%s) error = %v, want ErrNotFound", topic, err)
		}
	}
	if len(proto.getWrites()) != 0 {
		t.Error("device written for unknown topic")
	}
	if opens, _ := proto.counts(); opens != 0 {
		t.Errorf("opened %d sessions for unknown topics", opens)
	}
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	pub := NewMockMQTTClient()
	d, _ := newTestDispatcher(t, NewMockProtocol(), pub, 2)

	for i := range 2 {
		if err := d.HandleMessage("dev123/setpoint/set", []byte("70")); err != nil {
			t.Fatalf("HandleMessage() #%d error = %v", i, err)
		}
	}
	if err := d.HandleMessage("dev123/setpoint/set", []byte("71")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("HandleMessage() on full queue error = %v, want ErrQueueFull", err)
	}

	stats := d.Stats()
	if stats.Dropped != 1 || stats.Pending != 2 {
		t.Errorf("Stats() = %+v, want 1 dropped, 2 pending", stats)
	}
}

func TestNewCommandEvent_CopiesPayload(t *testing.T) {
	buf := []byte("70")
	ev := NewCommandEvent("t", buf)
	buf[0] = '9'

	if string(ev.Payload) != "70" {
		t.Errorf("Payload = %q, want 70", ev.Payload)
	}
	if ev.ID == "" || ev.Received.IsZero() {
		t.Errorf("event not stamped: %+v", ev)
	}
}

func TestDispatcher_RunConsumesQueue(t *testing.T) {
	proto := NewMockProtocol()
	pub := NewMockMQTTClient()
	d, _ := newTestDispatcher(t, proto, pub, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	if err := d.HandleMessage("dev123/setpoint/set", []byte("66")); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(pub.PublishedTo("dev123/setpoint/state")) == 0 {
		select {
		case <-deadline:
			t.Fatal("queued command never applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
