package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolveMissingAddress(t *testing.T) {
	t.Parallel()

	d := New(nil)
	d.Replace([]Record{
		{ID: "3429", Title: "I-80 at Donner Summit", StreamAddress: "https://cams.test/3429.m3u8"},
		{ID: "3498", Title: "US-50 at Echo Summit"},
	})

	if addr, ok := d.Resolve("3429"); !ok || addr != "https://cams.test/3429.m3u8" {
		t.Fatalf("Resolve(3429) = %q, %v", addr, ok)
	}
	if _, ok := d.Resolve("3498"); ok {
		t.Fatal("camera without a stream address must not resolve")
	}
	if _, ok := d.Resolve("unknown"); ok {
		t.Fatal("unknown camera must not resolve")
	}
}

func TestMergeKeepsKnownAddress(t *testing.T) {
	t.Parallel()

	d := New(nil)
	d.Replace([]Record{{ID: "3429", Title: "old", StreamAddress: "https://cams.test/3429.m3u8"}})

	// A metadata-only update must not clear the known stream address.
	d.Merge([]Record{{ID: "3429", Title: "I-80 at Donner Summit"}})

	r, ok := d.Lookup("3429")
	if !ok {
		t.Fatal("record lost after merge")
	}
	if r.Title != "I-80 at Donner Summit" {
		t.Fatalf("title not updated: %q", r.Title)
	}
	if r.StreamAddress != "https://cams.test/3429.m3u8" {
		t.Fatalf("stream address lost: %q", r.StreamAddress)
	}
}

func TestOnChangeFiresAndCancels(t *testing.T) {
	t.Parallel()

	d := New(nil)

	fired := 0
	cancel := d.OnChange(func() { fired++ })

	d.Replace([]Record{{ID: "a"}})
	d.Merge([]Record{{ID: "b"}})
	cancel()
	d.Replace(nil)

	if fired != 2 {
		t.Fatalf("expected 2 notifications, got %d", fired)
	}
}

func TestLoaderMergesRemoteFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"3429","title":"I-80 at Donner Summit","lat":39.31,"lng":-120.33,"url":"https://cams.test/3429.m3u8"},
			{"id":"","title":"bogus"},
			{"id":"3416","title":"I-80 at Kingvale","lat":39.31,"lng":-120.44}
		]`))
	}))
	defer srv.Close()

	d := New(nil)
	l := NewLoader(d, srv.URL, time.Hour)

	if err := l.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if d.Len() != 2 {
		t.Fatalf("expected 2 cameras (empty id skipped), got %d", d.Len())
	}
	if _, ok := d.Resolve("3429"); !ok {
		t.Fatal("3429 should resolve")
	}
	if _, ok := d.Resolve("3416"); ok {
		t.Fatal("3416 has no stream address and must not resolve")
	}
}
