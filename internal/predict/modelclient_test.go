package predict_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/predictcoord/coordinator/internal/predict"
)

func testModelClient(t *testing.T, srv *httptest.Server) *predict.ModelClient {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return predict.NewModelClient(host, port)
}

func TestModelClientPredictReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/model_1/predict" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"direction": 0.5}`))
	}))
	defer srv.Close()

	client := testModelClient(t, srv)
	out, err := client.Predict(context.Background(), "model_1", json.RawMessage(`{"closes":[1,2,3]}`))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	var decoded struct {
		Direction float64 `json:"direction"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Direction != 0.5 {
		t.Fatalf("direction = %v, want 0.5", decoded.Direction)
	}
}

func TestModelClientPredictErrorsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "model crashed"}`))
	}))
	defer srv.Close()

	client := testModelClient(t, srv)
	_, err := client.Predict(context.Background(), "model_1", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected Predict to surface a 5xx response as an error")
	}
}

func TestModelClientTickHitsTickPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testModelClient(t, srv)
	if err := client.Tick(context.Background(), "model_1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if gotPath != "/models/model_1/tick" {
		t.Fatalf("path = %q, want /models/model_1/tick", gotPath)
	}
}
