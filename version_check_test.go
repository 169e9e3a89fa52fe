package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "1.0.0-rc.1", true},
		{"0.9.0", "1.0.0", false},
	}
	for _, tt := range tests {
		if got := isNewerVersion(tt.latest, tt.current); got != tt.want {
			t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func TestVersionCheckerCheck(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/"+githubRepo+"/releases/latest" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v1.4.2","draft":false,"prerelease":false}`))
	}))
	t.Cleanup(ts.Close)

	vc := NewVersionChecker()
	vc.baseURL = ts.URL

	if err := vc.check(context.Background()); err != nil {
		t.Fatalf("check() error = %v", err)
	}
	info := vc.Info()
	if info.Latest != "1.4.2" {
		t.Errorf("Latest = %q, want 1.4.2", info.Latest)
	}
	if info.UpdateAvail {
		t.Error("UpdateAvail = true for a dev build")
	}

	if err := vc.check(context.Background()); err != nil {
		t.Errorf("conditional check() error = %v", err)
	}
	if got := vc.Info().Latest; got != "1.4.2" {
		t.Errorf("Latest = %q after 304, want 1.4.2", got)
	}
}

func TestVersionCheckerRateLimited(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(ts.Close)

	vc := NewVersionChecker()
	vc.baseURL = ts.URL
	if err := vc.check(context.Background()); !errors.Is(err, errReleaseUnavailable) {
		t.Errorf("check() error = %v, want errReleaseUnavailable", err)
	}
}
