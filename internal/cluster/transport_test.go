package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quorumd.io/server/models"
)

// testPeer runs a fake peer wire surface and returns its address.
func testPeer(t *testing.T, handler http.Handler) models.HostPort {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return models.MustHostPort(strings.TrimPrefix(server.URL, "http://"))
}

func TestHTTPTransportHeartbeat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/replset/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var args models.HeartbeatArgs
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			t.Errorf("failed to decode args: %v", err)
		}
		if args.SetName != "rs0" {
			t.Errorf("setName = %q, want rs0", args.SetName)
		}
		json.NewEncoder(w).Encode(models.HeartbeatResponse{
			Ok:      true,
			SetName: "rs0",
			State:   models.StateSecondary,
			OpTime:  models.OpTime{Secs: 5, Counter: 1},
		})
	})
	target := testPeer(t, mux)

	transport := NewHTTPTransport(nil)
	resp, rtt, err := transport.SendHeartbeat(context.Background(), target, models.HeartbeatArgs{
		ProtocolVersion: models.HeartbeatProtocolVersion,
		SetName:         "rs0",
		ConfigVersion:   1,
	})
	if err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if !resp.Ok || resp.OpTime != (models.OpTime{Secs: 5, Counter: 1}) {
		t.Fatalf("response = %+v", resp)
	}
	if rtt <= 0 {
		t.Fatal("round trip time should be positive")
	}
}

func TestHTTPTransportTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/replset/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	target := testPeer(t, mux)

	transport := NewHTTPTransport(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := transport.SendHeartbeat(ctx, target, models.HeartbeatArgs{SetName: "rs0"})
	if !errors.Is(err, models.ErrExceededTimeLimit) {
		t.Fatalf("err = %v, want ErrExceededTimeLimit", err)
	}
}

func TestHTTPTransportUnreachable(t *testing.T) {
	transport := NewHTTPTransport(nil)
	// A privileged port with nothing listening.
	target := models.MustHostPort("127.0.0.1:1")

	_, _, err := transport.SendHeartbeat(context.Background(), target, models.HeartbeatArgs{SetName: "rs0"})
	if !errors.Is(err, models.ErrHostUnreachable) {
		t.Fatalf("err = %v, want ErrHostUnreachable", err)
	}
}

func TestHTTPTransportErrorBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/replset/fresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(models.ErrorResponse{Ok: false, Errmsg: "replica set not found"})
	})
	target := testPeer(t, mux)

	transport := NewHTTPTransport(nil)
	_, err := transport.SendFresh(context.Background(), target, models.FreshArgs{SetName: "other"})
	if err == nil || !strings.Contains(err.Error(), "replica set not found") {
		t.Fatalf("err = %v, want wrapped peer errmsg", err)
	}
}

func TestHTTPTransportStepDown(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/replset/stepDown", func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	target := testPeer(t, mux)

	transport := NewHTTPTransport(nil)
	if err := transport.RequestStepDown(context.Background(), target); err != nil {
		t.Fatalf("step-down failed: %v", err)
	}
	if !called {
		t.Fatal("step-down endpoint was not called")
	}
}
