package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExpoPushGatewayPostsNotification(t *testing.T) {
	var received expoPushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/--/api/v2/push/send" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"status":"ok"}}`))
	}))
	defer server.Close()

	gateway := NewExpoPushGateway(server.URL)
	err := gateway.Send(context.Background(), PushNotification{
		Token:       "ExponentPushToken[abc]",
		Title:       "Test User",
		Body:        "Hello",
		SessionID:   7,
		RecipientID: "nutri-9",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if received.To != "ExponentPushToken[abc]" || received.Sound != "default" {
		t.Fatalf("unexpected request: %+v", received)
	}
	if received.Data["sessionId"] != "7" || received.Data["recipientId"] != "nutri-9" {
		t.Fatalf("unexpected data payload: %+v", received.Data)
	}
}

func TestExpoPushGatewayReportsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"status":"error","message":"DeviceNotRegistered"}}`))
	}))
	defer server.Close()

	gateway := NewExpoPushGateway(server.URL)
	err := gateway.Send(context.Background(), PushNotification{Token: "bad", Body: "Hello"})
	if err == nil {
		t.Fatal("expected provider error")
	}
}

func TestExpoPushGatewayReportsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gateway := NewExpoPushGateway(server.URL)
	err := gateway.Send(context.Background(), PushNotification{Token: "t", Body: "Hello"})
	if err == nil {
		t.Fatal("expected error on 502")
	}
}
