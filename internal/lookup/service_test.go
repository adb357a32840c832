package lookup

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

const taskJSON = `{"taskUid":1,"indexUid":"roompool_names","status":"enqueued","type":"documentAdditionOrUpdate","enqueuedAt":"2024-01-01T00:00:00Z"}`

// fakeMeili answers the handful of endpoints the catalog uses.
type fakeMeili struct {
	hits      string
	documents chan []Entry
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/health":
		_, _ = w.Write([]byte(`{"status":"available"}`))
	case strings.HasSuffix(r.URL.Path, "/search"):
		_, _ = w.Write([]byte(`{"hits":` + f.hits + `,"query":"","processingTimeMs":1,"limit":5,"offset":0,"estimatedTotalHits":1}`))
	case strings.HasSuffix(r.URL.Path, "/documents") && r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var docs []Entry
		_ = json.Unmarshal(body, &docs)
		if f.documents != nil {
			f.documents <- docs
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(taskJSON))
	default:
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(taskJSON))
	}
}

func newGoogleServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestServicePrefersMeiliHits(t *testing.T) {
	fake := &fakeMeili{hits: `[{"id":"a","title":"Dota 2","short":"DotA2"}]`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMeili(srv.URL, "key", nil)
	defer m.Close()
	if !m.Healthy() {
		t.Fatal("expected meilisearch to be healthy")
	}

	google := NewGoogle(GoogleConfig{BaseURL: newGoogleServer(t, `{"items":[{"link":"https://reddit.com/r/dota2"}]}`).URL})
	svc := NewService(m, google, nil)

	got, err := svc.Lookup(context.Background(), "Dota 2")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"DotA2"}) {
		t.Fatalf("expected catalog hit, got %v", got)
	}
}

func TestServiceFallsBackToGoogleOnEmptyCatalog(t *testing.T) {
	srv := httptest.NewServer(&fakeMeili{hits: `[]`})
	defer srv.Close()

	m := NewMeili(srv.URL, "key", nil)
	defer m.Close()

	google := NewGoogle(GoogleConfig{BaseURL: newGoogleServer(t, `{"items":[{"link":"https://reddit.com/r/dota2"}]}`).URL})
	got, err := NewService(m, google, nil).Lookup(context.Background(), "Dota 2")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Dota2"}) {
		t.Fatalf("expected google candidate, got %v", got)
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	got, err := NewService(nil, nil, nil).Lookup(context.Background(), "anything")
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v %v", got, err)
	}
}

func TestServiceRememberIndexesEntry(t *testing.T) {
	fake := &fakeMeili{hits: `[]`, documents: make(chan []Entry, 1)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMeili(srv.URL, "key", nil)
	defer m.Close()

	NewService(m, nil, nil).Remember("Hades II", "HadesTheGame")

	select {
	case docs := <-fake.documents:
		if len(docs) != 1 || docs[0].Title != "Hades II" || docs[0].Short != "HadesTheGame" {
			t.Fatalf("unexpected indexed documents: %+v", docs)
		}
		if docs[0].ID != NewEntry("Hades II", "x").ID {
			t.Fatalf("document id should depend on label only, got %s", docs[0].ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("entry was not indexed")
	}
}

func TestNewMeiliUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMeili(url, "key", nil)
	defer m.Close()
	if m.Healthy() {
		t.Fatal("expected unhealthy client")
	}
	if _, err := m.Lookup(context.Background(), "x"); err == nil {
		t.Fatal("expected error from unhealthy client")
	}
}

func TestServiceIgnoresOtherTitlesAndAsksGoogle(t *testing.T) {
	srv := httptest.NewServer(&fakeMeili{hits: `[{"id":"a","title":"Euro Truck Simulator 2","short":"ETS2"}]`})
	defer srv.Close()

	m := NewMeili(srv.URL, "key", nil)
	defer m.Close()

	google := NewGoogle(GoogleConfig{BaseURL: newGoogleServer(t, `{"items":[{"link":"https://www.reddit.com/r/farmingsimulator"}]}`).URL})
	got, err := NewService(m, google, nil).Lookup(context.Background(), "Farming Simulator 22")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"Farmingsimulator"}) {
		t.Fatalf("expected google candidate, got %v", got)
	}
}

func TestMeiliLookupMatchesTitleIgnoringCase(t *testing.T) {
	srv := httptest.NewServer(&fakeMeili{hits: `[{"id":"a","title":"Minecraft","short":"Minecraft"},{"id":"b","title":"minecraft dungeons ","short":"MinecraftDungeons"}]`})
	defer srv.Close()

	m := NewMeili(srv.URL, "key", nil)
	defer m.Close()

	got, err := m.Lookup(context.Background(), "Minecraft Dungeons")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"MinecraftDungeons"}) {
		t.Fatalf("expected only the exact title, got %v", got)
	}
}
