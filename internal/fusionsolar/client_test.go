package fusionsolar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(server.URL, "api-user", "secret", WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, server
}

func TestAuthenticate_StoresToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["userName"] != "api-user" || body["systemCode"] != "secret" {
			t.Fatalf("unexpected login body %v", body)
		}
		w.Header().Set("Xsrf-Token", "tok-123")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))

	token, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if token != "tok-123" {
		t.Fatalf("expected tok-123, got %q", token)
	}
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "failCode": 20400})
	}))

	_, err := client.Authenticate(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Kind != AuthInvalidCredentials {
		t.Fatalf("expected invalid_credentials, got %s", authErr.Kind)
	}
	if authErr.FailCode != 20400 {
		t.Fatalf("expected failCode 20400, got %d", authErr.FailCode)
	}
}

func TestAuthenticate_MissingToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))

	_, err := client.Authenticate(context.Background())
	if !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
}

func TestCall_SendsTokenHeader(t *testing.T) {
	var seenToken string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.Header().Set("XSRF-TOKEN", "tok-9")
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
		case "/getStationRealKpi":
			seenToken = r.Header.Get("XSRF-TOKEN")
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": []any{}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	if _, err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	body, err := client.Call(context.Background(), OpStationRealKpi, map[string]any{"stationCodes": "a"}, DefaultTimeout)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if seenToken != "tok-9" {
		t.Fatalf("expected token header tok-9, got %q", seenToken)
	}
	if success, _ := body["success"].(bool); !success {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCall_Non200IsProtocolError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Call(context.Background(), OpStations, nil, DefaultTimeout)
	var protocolErr *ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if protocolErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", protocolErr.StatusCode)
	}
}

func TestCall_ConnectionRefusedIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	client, err := NewClient(server.URL, "u", "p")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	server.Close()

	_, err = client.Call(context.Background(), OpStations, nil, DefaultTimeout)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
