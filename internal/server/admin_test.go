package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeRefresher struct {
	settingsCalls int
	rulesCalls    int
	fail          bool
}

func (f *fakeRefresher) RefreshSettings(context.Context) error {
	f.settingsCalls++
	if f.fail {
		return errors.New("backend down")
	}
	return nil
}

func (f *fakeRefresher) ReloadRules(context.Context) error {
	f.rulesCalls++
	if f.fail {
		return errors.New("backend down")
	}
	return nil
}

type fakeStatus struct {
	name      string
	connected bool
}

func (f fakeStatus) Name() string    { return f.name }
func (f fakeStatus) Connected() bool { return f.connected }

func TestHealthzIsPublic(t *testing.T) {
	a := NewAdmin("tok", nil, []StreamStatus{fakeStatus{"spot", true}}, slog.Default())

	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Streams []struct {
			Name      string `json:"name"`
			Connected bool   `json:"connected"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || len(body.Streams) != 1 || !body.Streams[0].Connected {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRefreshRequiresBearerToken(t *testing.T) {
	ref := &fakeRefresher{}
	a := NewAdmin("tok", []Refresher{ref}, nil, slog.Default())

	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}
	if ref.settingsCalls != 0 {
		t.Fatal("refresher must not run without auth")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}
	if ref.settingsCalls != 1 || ref.rulesCalls != 1 {
		t.Fatalf("refresher calls = %d/%d, want 1/1", ref.settingsCalls, ref.rulesCalls)
	}
}

func TestRefreshReportsFailures(t *testing.T) {
	a := NewAdmin("tok", []Refresher{&fakeRefresher{fail: true}}, nil, slog.Default())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
