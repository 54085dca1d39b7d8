package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeEventParsesCommands(t *testing.T) {
	event := decodeEvent(wireEvent{ChatID: 1, MessageID: 2, SenderID: 3, Text: "/topic invoices extra"})
	if event.Command != "topic" {
		t.Fatalf("expected command topic, got %q", event.Command)
	}
	if len(event.Args) != 2 || event.Args[0] != "invoices" || event.Args[1] != "extra" {
		t.Fatalf("unexpected args %v", event.Args)
	}
	if event.Text != "" {
		t.Fatalf("expected text cleared for commands, got %q", event.Text)
	}

	plain := decodeEvent(wireEvent{Text: "just a note"})
	if plain.Command != "" || plain.Text != "just a note" {
		t.Fatalf("plain text must not become a command: %+v", plain)
	}
}

func TestDecodeEventCarriesAttachment(t *testing.T) {
	event := decodeEvent(wireEvent{
		GroupKey: "g1",
		Attachment: &wireAttachment{
			Kind:     "photo",
			FileID:   "f1",
			Filename: "x.jpg",
			MimeType: "image/jpeg",
			Size:     12,
		},
	})
	if event.Attachment == nil {
		t.Fatal("expected attachment")
	}
	if event.Attachment.Kind != AttachmentPhoto || event.Attachment.FileID != "f1" {
		t.Fatalf("unexpected attachment %+v", event.Attachment)
	}
	if event.GroupKey != "g1" {
		t.Fatalf("expected group key carried, got %q", event.GroupKey)
	}
}

func TestHTTPBaseURL(t *testing.T) {
	cases := map[string]string{
		"ws://gateway.local:9000/v1/stream": "http://gateway.local:9000",
		"wss://gateway.example/v1/stream":   "https://gateway.example",
		"wss://gateway.example":             "https://gateway.example",
	}
	for input, want := range cases {
		if got := httpBaseURL(input); got != want {
			t.Fatalf("httpBaseURL(%q)=%q, want %q", input, got, want)
		}
	}
}

func TestDownloadFetchesPayload(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/files/file-1/content" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload-bytes"))
	}))
	defer server.Close()

	transport := NewWebsocketTransport(WebsocketOptions{
		URL:   "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/stream",
		Token: "secret",
	})
	payload, err := transport.Download(context.Background(), "file-1")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(payload) != "payload-bytes" {
		t.Fatalf("unexpected payload %q", payload)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer token forwarded, got %q", gotAuth)
	}
}

func TestDownloadSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	transport := NewWebsocketTransport(WebsocketOptions{
		URL: "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/stream",
	})
	if _, err := transport.Download(context.Background(), "file-1"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestWriteWithoutConnectionFails(t *testing.T) {
	transport := NewWebsocketTransport(WebsocketOptions{URL: "ws://gateway.local/v1/stream"})
	if err := transport.Reply(context.Background(), 1, 2, "hi"); err == nil {
		t.Fatal("expected error when not connected")
	}
}
