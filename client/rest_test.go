package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRESTBearerCredentialAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	chat := NewChatAPI(srv.URL, "secret-token", srv.Client())
	if _, err := chat.Conversations(context.Background()); err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
}

func TestRESTServiceErrorCarriesStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"room not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	rooms := NewRoomAPI(srv.URL, "token", srv.Client())
	_, err := rooms.Join(context.Background(), "missing")

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if svcErr.Status != http.StatusNotFound || svcErr.Message != "room not found" {
		t.Fatalf("unexpected service error: %+v", svcErr)
	}
}

func TestRESTTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	rooms := NewRoomAPI(srv.URL, "token", nil)
	_, err := rooms.Join(context.Background(), "r1")

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestUploadMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, `{"error":"bad upload"}`, http.StatusBadRequest)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if string(body) != "scan data" {
			t.Errorf("unexpected file body: %q", body)
		}
		w.Write([]byte(`{"resourceType":"image","url":"/media/` + hdr.Filename + `","originalName":"` + hdr.Filename + `"}`))
	}))
	defer srv.Close()

	chat := NewChatAPI(srv.URL, "token", srv.Client())
	att, err := chat.UploadMedia(context.Background(), "xray.png", strings.NewReader("scan data"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if att.ResourceType != "image" || att.OriginalName != "xray.png" {
		t.Fatalf("unexpected attachment: %+v", att)
	}
}

func TestValidateCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/validate-code/ABC123") {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"valid":true,"roomId":"r1","status":"waiting"}`))
	}))
	defer srv.Close()

	rooms := NewRoomAPI(srv.URL, "token", srv.Client())
	v, err := rooms.ValidateCode(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.Valid || v.RoomID != "r1" {
		t.Fatalf("unexpected validation: %+v", v)
	}
}
