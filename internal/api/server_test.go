package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tkardel/camwall/directory"
	"github.com/tkardel/camwall/session"
	"github.com/tkardel/camwall/wall"
)

// fakeWall records calls and returns scripted results.
type fakeWall struct {
	openErr  error
	nextID   string
	nextErr  error
	opened   []string
	switched []string
	closed   int
	previews []string
	warmed   []string
	events   chan wall.Event
	snapshot wall.State
}

func newFakeWall() *fakeWall {
	return &fakeWall{events: make(chan wall.Event, 8)}
}

func (f *fakeWall) Open(id string) error {
	f.opened = append(f.opened, id)
	return f.openErr
}
func (f *fakeWall) Close()                { f.closed++ }
func (f *fakeWall) Next() (string, error) { return f.nextID, f.nextErr }
func (f *fakeWall) Prev() (string, error) { return f.nextID, f.nextErr }
func (f *fakeWall) SwitchTo(id string) error {
	f.switched = append(f.switched, id)
	return f.openErr
}
func (f *fakeWall) OpenPreview(id string, _ session.Sink) error {
	f.previews = append(f.previews, id)
	return f.openErr
}
func (f *fakeWall) ClosePreview(id string) {}
func (f *fakeWall) SetFocusNeighbors(ids []string) error {
	f.warmed = ids
	return f.openErr
}
func (f *fakeWall) Snapshot() wall.State { return f.snapshot }
func (f *fakeWall) Subscribe() (<-chan wall.Event, func()) {
	return f.events, func() {}
}

func newTestServer(t *testing.T, w Wall) *httptest.Server {
	t.Helper()
	dir := directory.New(nil)
	dir.Replace([]directory.Record{
		{ID: "3429", Title: "I-90 at Bridge", Lat: 47.6, Lng: -122.3, StreamAddress: "https://cams.test/3429.m3u8"},
		{ID: "3498", Title: "SR-520 Midspan"},
	})
	srv := httptest.NewServer(NewServer(":0", w, dir, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestOpenAndSwitch(t *testing.T) {
	w := newFakeWall()
	srv := newTestServer(t, w)

	resp := post(t, srv.URL+"/api/v1/open/3429")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body focusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.CameraID != "3429" {
		t.Fatalf("camera = %q", body.CameraID)
	}

	post(t, srv.URL+"/api/v1/switch/3498")
	if len(w.opened) != 1 || len(w.switched) != 1 || w.switched[0] != "3498" {
		t.Fatalf("calls: opened=%v switched=%v", w.opened, w.switched)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown camera", wall.ErrUnknownCamera, http.StatusNotFound},
		{"outside order", wall.ErrOutsideOrder, http.StatusConflict},
		{"no focus", wall.ErrNoFocusedCamera, http.StatusConflict},
		{"shut down", wall.ErrShutdown, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newFakeWall()
			w.openErr = tc.err
			w.nextErr = tc.err
			srv := newTestServer(t, w)

			if resp := post(t, srv.URL+"/api/v1/open/x"); resp.StatusCode != tc.status {
				t.Errorf("open status = %d, want %d", resp.StatusCode, tc.status)
			}
			if resp := post(t, srv.URL+"/api/v1/next"); resp.StatusCode != tc.status {
				t.Errorf("next status = %d, want %d", resp.StatusCode, tc.status)
			}
		})
	}
}

func TestStateAndCameras(t *testing.T) {
	w := newFakeWall()
	w.snapshot = wall.State{FocusedCamera: "3429", FocusedOpen: true, Established: true}
	srv := newTestServer(t, w)

	resp, err := http.Get(srv.URL + "/api/v1/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st wall.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.FocusedCamera != "3429" || !st.Established {
		t.Fatalf("state = %+v", st)
	}

	resp, err = http.Get(srv.URL + "/api/v1/cameras")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var cams []cameraInfo
	if err := json.NewDecoder(resp.Body).Decode(&cams); err != nil {
		t.Fatal(err)
	}
	if len(cams) != 2 {
		t.Fatalf("cameras = %+v", cams)
	}
	for _, cam := range cams {
		switch cam.ID {
		case "3429":
			if !cam.HasStream {
				t.Error("3429 must report a stream")
			}
		case "3498":
			if cam.HasStream {
				t.Error("3498 must not report a stream")
			}
		}
	}
}

func TestWarmEndpoint(t *testing.T) {
	w := newFakeWall()
	srv := newTestServer(t, w)

	resp, err := http.Post(srv.URL+"/api/v1/warm", "application/json",
		strings.NewReader(`{"ids": ["3429", "3498"]}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(w.warmed) != 2 || w.warmed[0] != "3429" {
		t.Fatalf("warmed = %v", w.warmed)
	}

	resp, err = http.Post(srv.URL+"/api/v1/warm", "application/json",
		strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status without ids = %d", resp.StatusCode)
	}
}

func TestWebsocketDeliversEvents(t *testing.T) {
	w := newFakeWall()
	srv := newTestServer(t, w)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	w.events <- wall.Event{Kind: wall.EventActiveChanged, CameraID: "3429"}
	w.events <- wall.Event{Kind: wall.EventStreamError, CameraID: "3429", Message: "stream stalled"}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Kind != "active_changed" || msg.CameraID != "3429" {
		t.Fatalf("message = %+v", msg)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Kind != "stream_error" || msg.Message != "stream stalled" {
		t.Fatalf("message = %+v", msg)
	}
}
