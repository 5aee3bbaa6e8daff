package arr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recorder struct {
	mu       sync.Mutex
	deleted  []string
	commands []map[string]any
}

func (r *recorder) deleteHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.deleted = append(r.deleted, req.URL.Path)
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (r *recorder) commandHandler(w http.ResponseWriter, req *http.Request) {
	var body map[string]any
	json.NewDecoder(req.Body).Decode(&body)
	r.mu.Lock()
	r.commands = append(r.commands, body)
	r.mu.Unlock()
	writeJSON(w, Command{ID: 1, Name: body["name"].(string)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func requireKey(t *testing.T, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("%s %s: missing api key", req.Method, req.URL.Path)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func radarrServer(t *testing.T, rec *recorder, deleteStatus int) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/rootfolder", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, []RootFolder{{ID: 1, Path: "/library/movies"}})
	})
	mux.HandleFunc("GET /api/v3/movie", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, []Movie{
			{ID: 7, Title: "Other", MovieFile: &MovieFile{ID: 70, Path: "/library/movies/Other/Other.mkv"}},
			{ID: 8, Title: "Movie", MovieFile: &MovieFile{ID: 80, Path: "/library/movies/Movie/Movie.mkv"}},
			{ID: 9, Title: "Missing"},
		})
	})
	mux.HandleFunc("DELETE /api/v3/moviefile/{id}", rec.deleteHandler(deleteStatus))
	mux.HandleFunc("POST /api/v3/command", rec.commandHandler)
	srv := httptest.NewServer(requireKey(t, mux))
	t.Cleanup(srv.Close)
	return srv
}

func TestRadarrRemoveAndSearch(t *testing.T) {
	rec := &recorder{}
	srv := radarrServer(t, rec, http.StatusOK)
	client := NewRadarrClient(srv.URL+"/", "secret", srv.Client())

	ok, err := client.RemoveAndSearch(context.Background(), "/library/movies/Movie/Movie.mkv")
	if err != nil || !ok {
		t.Fatalf("RemoveAndSearch = %v, %v", ok, err)
	}
	if len(rec.deleted) != 1 || rec.deleted[0] != "/api/v3/moviefile/80" {
		t.Errorf("deleted = %v", rec.deleted)
	}
	if len(rec.commands) != 1 || rec.commands[0]["name"] != "MoviesSearch" {
		t.Fatalf("commands = %v", rec.commands)
	}
	ids, _ := rec.commands[0]["movieIds"].([]any)
	if len(ids) != 1 || ids[0].(float64) != 8 {
		t.Errorf("movieIds = %v", rec.commands[0]["movieIds"])
	}
}

func TestRadarrNoMatchingMovie(t *testing.T) {
	rec := &recorder{}
	srv := radarrServer(t, rec, http.StatusOK)
	client := NewRadarrClient(srv.URL, "secret", srv.Client())

	ok, err := client.RemoveAndSearch(context.Background(), "/library/movies/Unknown/Unknown.mkv")
	if err != nil || ok {
		t.Fatalf("RemoveAndSearch = %v, %v; want false, nil", ok, err)
	}
	if len(rec.deleted) != 0 || len(rec.commands) != 0 {
		t.Errorf("unexpected calls: %v %v", rec.deleted, rec.commands)
	}
}

func TestRadarrDeleteFailure(t *testing.T) {
	rec := &recorder{}
	srv := radarrServer(t, rec, http.StatusInternalServerError)
	client := NewRadarrClient(srv.URL, "secret", srv.Client())

	ok, err := client.RemoveAndSearch(context.Background(), "/library/movies/Movie/Movie.mkv")
	if err == nil || ok {
		t.Fatalf("RemoveAndSearch = %v, %v; want an error", ok, err)
	}
	if len(rec.commands) != 0 {
		t.Errorf("search triggered after failed delete: %v", rec.commands)
	}
}

func sonarrServer(t *testing.T, rec *recorder, calls map[string]int) *httptest.Server {
	var mu sync.Mutex
	count := func(name string) {
		mu.Lock()
		calls[name]++
		mu.Unlock()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/rootfolder", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, []RootFolder{{ID: 1, Path: "/library/tv"}})
	})
	mux.HandleFunc("GET /api/v3/series", func(w http.ResponseWriter, req *http.Request) {
		count("series")
		writeJSON(w, []Series{{ID: 3, Title: "Show", Path: "/library/tv/Show"}})
	})
	mux.HandleFunc("GET /api/v3/series/{id}", func(w http.ResponseWriter, req *http.Request) {
		count("series/id")
		writeJSON(w, Series{ID: 3, Title: "Show", Path: "/library/tv/Show"})
	})
	mux.HandleFunc("GET /api/v3/episodefile", func(w http.ResponseWriter, req *http.Request) {
		count("episodefile")
		if req.URL.Query().Get("seriesId") != "3" {
			t.Errorf("seriesId = %q", req.URL.Query().Get("seriesId"))
		}
		writeJSON(w, []EpisodeFile{
			{ID: 30, SeriesID: 3, Path: "/library/tv/Show/Season 01/S01E01.mkv"},
			{ID: 31, SeriesID: 3, Path: "/library/tv/Show/Season 01/S01E02.mkv"},
		})
	})
	mux.HandleFunc("GET /api/v3/episodefile/{id}", func(w http.ResponseWriter, req *http.Request) {
		count("episodefile/id")
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /api/v3/episode", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("episodeFileId") == "31" {
			writeJSON(w, []Episode{{ID: 100, EpisodeFileID: 31}, {ID: 101, EpisodeFileID: 31}})
			return
		}
		writeJSON(w, []Episode{})
	})
	mux.HandleFunc("DELETE /api/v3/episodefile/{id}", rec.deleteHandler(http.StatusOK))
	mux.HandleFunc("POST /api/v3/command", rec.commandHandler)
	srv := httptest.NewServer(requireKey(t, mux))
	t.Cleanup(srv.Close)
	return srv
}

func TestSonarrRemoveAndSearch(t *testing.T) {
	rec := &recorder{}
	calls := map[string]int{}
	srv := sonarrServer(t, rec, calls)
	client := NewSonarrClient(srv.URL, "secret", srv.Client())

	ok, err := client.RemoveAndSearch(context.Background(), "/library/tv/Show/Season 01/S01E02.mkv")
	if err != nil || !ok {
		t.Fatalf("RemoveAndSearch = %v, %v", ok, err)
	}
	if len(rec.deleted) != 1 || rec.deleted[0] != "/api/v3/episodefile/31" {
		t.Errorf("deleted = %v", rec.deleted)
	}
	if len(rec.commands) != 1 || rec.commands[0]["name"] != "EpisodeSearch" {
		t.Fatalf("commands = %v", rec.commands)
	}
	if ids, _ := rec.commands[0]["episodeIds"].([]any); len(ids) != 2 {
		t.Errorf("episodeIds = %v", rec.commands[0]["episodeIds"])
	}
}

func TestSonarrUsesSeriesCache(t *testing.T) {
	rec := &recorder{}
	calls := map[string]int{}
	srv := sonarrServer(t, rec, calls)
	client := NewSonarrClient(srv.URL, "secret", srv.Client())
	ctx := context.Background()

	// no episodes for this file, so nothing is deleted
	if ok, err := client.RemoveAndSearch(ctx, "/library/tv/Show/Season 01/S01E01.mkv"); err != nil || ok {
		t.Fatalf("first RemoveAndSearch = %v, %v", ok, err)
	}
	if ok, err := client.RemoveAndSearch(ctx, "/library/tv/Show/Season 01/S01E02.mkv"); err != nil || !ok {
		t.Fatalf("second RemoveAndSearch = %v, %v", ok, err)
	}

	if calls["series"] != 1 {
		t.Errorf("series listed %d times, want 1", calls["series"])
	}
	// the episode file id came from the cache and was verified
	if calls["episodefile/id"] != 1 {
		t.Errorf("episode file verified %d times, want 1", calls["episodefile/id"])
	}
}

func TestSonarrUnknownSeries(t *testing.T) {
	rec := &recorder{}
	srv := sonarrServer(t, rec, map[string]int{})
	client := NewSonarrClient(srv.URL, "secret", srv.Client())

	ok, err := client.RemoveAndSearch(context.Background(), "/library/tv/Other/S01E01.mkv")
	if err != nil || ok {
		t.Fatalf("RemoveAndSearch = %v, %v; want false, nil", ok, err)
	}
}

func TestOwner(t *testing.T) {
	rec := &recorder{}
	radarr := NewRadarrClient(radarrServer(t, rec, http.StatusOK).URL, "secret", nil)
	sonarr := NewSonarrClient(sonarrServer(t, rec, map[string]int{}).URL, "secret", nil)
	clients := []Client{radarr, sonarr}

	tests := []struct {
		path string
		want Client
	}{
		{"/library/movies/Movie/Movie.mkv", radarr},
		{"/library/tv/Show/S01E01.mkv", sonarr},
		{"/elsewhere/file.mkv", nil},
	}
	for _, tt := range tests {
		got, err := Owner(context.Background(), clients, tt.path)
		if err != nil {
			t.Fatalf("Owner(%q): %v", tt.path, err)
		}
		if got != tt.want {
			t.Errorf("Owner(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
