package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/criticalstack/swimkv/pkg/broadcast"
	"github.com/criticalstack/swimkv/pkg/runtime"
)

type fakeStore struct {
	fields map[string]string
}

func (f *fakeStore) GetField(name string) (string, bool) {
	v, ok := f.fields[name]
	return v, ok
}

func (f *fakeStore) SetField(name, value string) {
	if f.fields == nil {
		f.fields = make(map[string]string)
	}
	f.fields[name] = value
}

func (f *fakeStore) Snapshot() []byte { return []byte("snapshot") }

type fakeBroadcaster struct {
	sent []broadcast.Tag
}

func (f *fakeBroadcaster) SendBroadcast(tag broadcast.Tag, msg *broadcast.GossipMessage) {
	f.sent = append(f.sent, tag)
}

func (f *fakeBroadcaster) Addresses() []string { return []string{"127.0.0.1:9000", "127.0.0.1:9001"} }

type fakeEvents struct{}

func (fakeEvents) Subscribe(ch chan runtime.Event)   {}
func (fakeEvents) Unsubscribe(ch chan runtime.Event) {}

func TestHello(t *testing.T) {
	s := New(&fakeStore{}, &fakeBroadcaster{}, fakeEvents{}, rate.Limit(100))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/hello", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d", rr.Code)
	}
	if rr.Body.String() != "Hello world!\r\n" {
		t.Fatalf("got body %q", rr.Body.String())
	}
}

func TestGetFieldMissingReportsNA(t *testing.T) {
	s := New(&fakeStore{}, &fakeBroadcaster{}, fakeEvents{}, rate.Limit(100))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/state/color", nil))

	if rr.Body.String() != "color: N/A" {
		t.Fatalf("got body %q", rr.Body.String())
	}
}

func TestSetFieldThenGetField(t *testing.T) {
	fb := &fakeBroadcaster{}
	s := New(&fakeStore{}, fb, fakeEvents{}, rate.Limit(100))

	rr := httptest.NewRecorder()
	body := strings.NewReader(`{"value":"red"}`)
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/state/color", body))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("got status %d", rr.Code)
	}
	if len(fb.sent) != 1 {
		t.Fatalf("expected exactly one broadcast to be sent, got %d", len(fb.sent))
	}

	rr2 := httptest.NewRecorder()
	s.ServeHTTP(rr2, httptest.NewRequest(http.MethodGet, "/state/color", nil))
	if rr2.Body.String() != `color: "red"` {
		t.Fatalf("got body %q", rr2.Body.String())
	}
}

func TestMembersListsAddresses(t *testing.T) {
	s := New(&fakeStore{}, &fakeBroadcaster{}, fakeEvents{}, rate.Limit(100))
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/state/members", nil))

	if !strings.Contains(rr.Body.String(), "127.0.0.1:9000") {
		t.Fatalf("got body %q", rr.Body.String())
	}
}

func TestSetFieldRateLimited(t *testing.T) {
	s := New(&fakeStore{}, &fakeBroadcaster{}, fakeEvents{}, rate.Limit(0))

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/state/color", strings.NewReader(`{"value":"x"}`)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected the single burst token to be available, got status %d", rr.Code)
	}

	rr2 := httptest.NewRecorder()
	s.ServeHTTP(rr2, httptest.NewRequest(http.MethodPut, "/state/color", strings.NewReader(`{"value":"y"}`)))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the second write with a zero refill rate to be rejected, got status %d", rr2.Code)
	}
}
