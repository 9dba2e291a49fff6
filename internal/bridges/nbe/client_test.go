package nbe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"
)

// encodeTestResponse builds a controller response frame.
func encodeTestResponse(appID, serial string, fn, seq, status int, payload string) []byte {
	s := fmt.Sprintf("%s%s\x02%02d%02d%d%03d%s\x04", appID, serial, fn, seq, status, len(payload), payload)
	return []byte(s)
}

// fakeRequest is a decoded request as seen by fakeController.
type fakeRequest struct {
	AppID    string
	Serial   string
	Function int
	Seq      int
	Pin      string
	Payload  string
}

// fakeController is a UDP server speaking the controller protocol. reply
// returns the frames to send back for each request.
type fakeController struct {
	conn  net.PacketConn
	reply func(req fakeRequest) [][]byte

	mu       sync.Mutex
	requests []fakeRequest
}

func newFakeController(t *testing.T, reply func(req fakeRequest) [][]byte) *fakeController {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	f := &fakeController{conn: conn, reply: reply}
	t.Cleanup(func() { conn.Close() })
	go f.serve()
	return f
}

func (f *fakeController) serve() {
	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := f.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		req, ok := parseFakeRequest(buf[:n])
		if !ok {
			continue
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		for _, frame := range f.reply(req) {
			_, _ = f.conn.WriteTo(frame, addr)
		}
	}
}

func parseFakeRequest(data []byte) (fakeRequest, bool) {
	const payloadStart = 51
	if len(data) < payloadStart+1 {
		return fakeRequest{}, false
	}
	s := string(data)
	fn, err1 := strconv.Atoi(s[20:22])
	seq, err2 := strconv.Atoi(s[22:24])
	size, err3 := strconv.Atoi(s[48:51])
	if err1 != nil || err2 != nil || err3 != nil || len(s) < payloadStart+size+1 {
		return fakeRequest{}, false
	}
	return fakeRequest{
		AppID:    s[0:12],
		Serial:   s[12:18],
		Function: fn,
		Seq:      seq,
		Pin:      s[24:34],
		Payload:  s[payloadStart : payloadStart+size],
	}, true
}

func (f *fakeController) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeController) getRequests() []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func newTestClient(f *fakeController, timeout time.Duration) *Client {
	return NewClient(ClientConfig{
		Host:     "127.0.0.1",
		Port:     f.port(),
		Serial:   "12345",
		Password: "9876",
		Timeout:  timeout,
	})
}

// answer replies once with status and payload, echoing the request header.
func answer(req fakeRequest, status int, payload string) [][]byte {
	return [][]byte{encodeTestResponse(req.AppID, req.Serial, req.Function, req.Seq, status, payload)}
}

func openSession(t *testing.T, c *Client) Session {
	t.Helper()
	sess, err := c.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

// =============================================================================
// Query
// =============================================================================

func TestSessionQuery(t *testing.T) {
	f := newFakeController(t, func(req fakeRequest) [][]byte {
		switch req.Function {
		case int(fnGetOperating):
			return answer(req, 0, "boiler_temp=55;power_kw=7.5")
		case int(fnGetSetup):
			return answer(req, 0, "temp=70;diff_over=5")
		case int(fnGetConsumption):
			return answer(req, 0, "1;2;3")
		}
		return nil
	})
	c := newTestClient(f, time.Second)
	sess := openSession(t, c)

	items, err := sess.Query(context.Background(), []string{"operating_data", "settings/boiler", "consumption_data/counter"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	want := []string{"boiler_temp=55", "power_kw=7.5", "boiler.temp=70", "boiler.diff_over=5"}
	if !reflect.DeepEqual(items, want) {
		t.Errorf("Query() = %v, want %v", items, want)
	}

	reqs := f.getRequests()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(reqs))
	}
	if reqs[1].Payload != "boiler.*" || reqs[2].Payload != "counter" {
		t.Errorf("payloads = %q, %q", reqs[1].Payload, reqs[2].Payload)
	}
	if reqs[0].Serial != "012345" || reqs[0].Pin != "0000009876" {
		t.Errorf("serial/pin = %q/%q", reqs[0].Serial, reqs[0].Pin)
	}

	stats := c.Stats()
	if stats.RequestsTx != 3 || stats.ResponsesRx != 3 || stats.LastActivity.IsZero() {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestSessionQuery_UnknownGroup(t *testing.T) {
	f := newFakeController(t, func(fakeRequest) [][]byte { return nil })
	sess := openSession(t, newTestClient(f, time.Second))

	if _, err := sess.Query(context.Background(), []string{"weather"}); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("Query() error = %v, want ErrUnknownGroup", err)
	}
	if len(f.getRequests()) != 0 {
		t.Error("request sent for unknown group")
	}
}

func TestSessionQuery_ErrorStatus(t *testing.T) {
	f := newFakeController(t, func(req fakeRequest) [][]byte {
		return answer(req, 1, "")
	})
	sess := openSession(t, newTestClient(f, time.Second))

	if _, err := sess.Query(context.Background(), []string{"operating_data"}); err == nil {
		t.Error("Query() error = nil for non-zero status")
	}
}

func TestSessionQuery_SkipsStaleResponses(t *testing.T) {
	f := newFakeController(t, func(req fakeRequest) [][]byte {
		stale := encodeTestResponse(req.AppID, req.Serial, req.Function, (req.Seq+50)%100, 0, "old=1")
		return append([][]byte{stale}, answer(req, 0, "new=2")...)
	})
	sess := openSession(t, newTestClient(f, time.Second))

	items, err := sess.Query(context.Background(), []string{"operating_data"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !reflect.DeepEqual(items, []string{"new=2"}) {
		t.Errorf("Query() = %v, want [new=2]", items)
	}
}

func TestSessionQuery_Timeout(t *testing.T) {
	f := newFakeController(t, func(fakeRequest) [][]byte { return nil })
	c := newTestClient(f, 50*time.Millisecond)
	sess := openSession(t, c)

	_, err := sess.Query(context.Background(), []string{"operating_data"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Query() error = %v, want ErrTimeout", err)
	}
	if c.Stats().Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", c.Stats().Timeouts)
	}
}

func TestSessionQuery_ContextDeadline(t *testing.T) {
	f := newFakeController(t, func(fakeRequest) [][]byte { return nil })
	sess := openSession(t, newTestClient(f, time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := sess.Query(ctx, []string{"operating_data"}); !errors.Is(err, ErrTimeout) {
		t.Errorf("Query() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Query() took %v, context deadline ignored", elapsed)
	}
}

// =============================================================================
// Write
// =============================================================================

func TestSessionWrite(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"confirmed", 0, true},
		{"rejected", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeController(t, func(req fakeRequest) [][]byte {
				return answer(req, tt.status, "")
			})
			sess := openSession(t, newTestClient(f, time.Second))

			ok, err := sess.Write(context.Background(), "boiler.temp", "72")
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if ok != tt.want {
				t.Errorf("Write() = %v, want %v", ok, tt.want)
			}

			reqs := f.getRequests()
			if len(reqs) != 1 || reqs[0].Function != int(fnSetSetup) || reqs[0].Payload != "boiler.temp=72" {
				t.Errorf("requests = %+v", reqs)
			}
		})
	}
}

func TestNewAppID(t *testing.T) {
	a, b := newAppID(), newAppID()
	if len(a) != appIDLen || len(b) != appIDLen {
		t.Errorf("len = %d/%d, want %d", len(a), len(b), appIDLen)
	}
	if a == b {
		t.Error("app ids repeat")
	}
}

func TestClientAddress(t *testing.T) {
	c := NewClient(ClientConfig{Host: "192.168.1.50", Port: 8483})
	if got := c.Address(); got != "192.168.1.50:8483" {
		t.Errorf("Address() = %q", got)
	}
	if c.cfg.Timeout != defaultRequestTimeout {
		t.Errorf("Timeout = %v, want default", c.cfg.Timeout)
	}
}
