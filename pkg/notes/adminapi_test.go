// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"maunium.net/go/mautrix/id"
)

func decodeRefresh(t *testing.T, w *httptest.ResponseRecorder) RefreshResponse {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp RefreshResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return resp
}

func TestHandleRefresh_EmptyBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	// Written behind the cache's back, e.g. by --grant-user.
	_ = env.store.PutMacro(context.Background(), testRoom, "faq", "answer")

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.ContentLength = 0
	w := httptest.NewRecorder()

	env.d.HandleRefresh(w, req)

	resp := decodeRefresh(t, w)
	if resp.Rooms != 1 || resp.Macros != 1 || resp.Created != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if _, ok := env.d.Cache().Room(testRoom).Macro("faq"); !ok {
		t.Error("refresh should load the new note")
	}
}

func TestHandleRefresh_SyncRooms(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.gateway.joined = []id.RoomID{testRoom, testRoom2}

	body, _ := json.Marshal(RefreshRequest{SyncRooms: true})
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	env.d.HandleRefresh(w, req)

	resp := decodeRefresh(t, w)
	if resp.Rooms != 2 || resp.Created != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleRefresh_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/refresh", nil)
	w := httptest.NewRecorder()

	env.d.HandleRefresh(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestHandleRefresh_InvalidJSON(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", strings.NewReader("{invalid json"))
	w := httptest.NewRecorder()

	env.d.HandleRefresh(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleRefresh_OversizedBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	oversized := bytes.Repeat([]byte{'A'}, maxRefreshBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", bytes.NewReader(oversized))
	w := httptest.NewRecorder()

	env.d.HandleRefresh(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized body, got %d", w.Code)
	}
}

func TestHandleRefresh_StorageFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.store.setFail("AllRecords", true)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	w := httptest.NewRecorder()

	env.d.HandleRefresh(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestAdminHandler_Metrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.allow(t, testRoom, alice)
	env.send(testRoom, alice, "!list")

	srv := httptest.NewServer(env.d.AdminHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, name := range []string{"mautrix_notes_commands_total", "mautrix_notes_refresh_seconds", "mautrix_notes_cached_rooms"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestServeAdminAPI_StopsOnCancel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- env.d.ServeAdminAPI(ctx, "127.0.0.1:0")
	}()
	cancel()

	if err := <-done; err != nil {
		t.Errorf("ServeAdminAPI: %v", err)
	}
}
