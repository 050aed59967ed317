package upload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// fakeAuthority is an in-process signed-URL authority plus blob destination.
type fakeAuthority struct {
	srv *httptest.Server

	mu        sync.Mutex
	signCalls int
	confirms  []ConfirmRequest
	blobs     map[string][]byte

	failSign    bool
	failPut     bool
	failConfirm bool
}

func newFakeAuthority(t *testing.T) *fakeAuthority {
	t.Helper()
	f := &fakeAuthority{blobs: make(map[string][]byte)}

	r := chi.NewRouter()
	r.Post("/upload/signed-url", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.signCalls++
		fail := f.failSign
		f.mu.Unlock()
		if fail {
			http.Error(w, "signer unavailable", http.StatusServiceUnavailable)
			return
		}

		var sr SignRequest
		if err := json.NewDecoder(req.Body).Decode(&sr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		grant := SignedURL{
			UploadID:    "up-1",
			SignedURL:   f.srv.URL + "/blobs/" + sr.SessionID,
			BlobPath:    "pets/" + sr.SessionID,
			PublicURL:   "https://cdn.example.com/pets/" + sr.SessionID,
			ContentType: sr.FileType,
		}
		json.NewEncoder(w).Encode(grant)
	})
	r.Put("/blobs/{name}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		fail := f.failPut
		f.mu.Unlock()
		if fail {
			http.Error(w, "blob store down", http.StatusBadGateway)
			return
		}
		data, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.blobs[chi.URLParam(req, "name")] = data
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/upload/confirm", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		fail := f.failConfirm
		f.mu.Unlock()
		if fail {
			http.Error(w, "confirm rejected", http.StatusInternalServerError)
			return
		}
		var cr ConfirmRequest
		if err := json.NewDecoder(req.Body).Decode(&cr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.confirms = append(f.confirms, cr)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAuthority) authority() *Authority { return NewAuthority(f.srv.URL) }

func testRequest() Request {
	return Request{
		CustomerID: "cust-1",
		SessionID:  "sess-1",
		FileType:   "image/jpeg",
		Data:       []byte("raw-jpeg-bytes"),
	}
}

func TestUpload_ThreeStepProtocol(t *testing.T) {
	f := newFakeAuthority(t)
	c := NewCoordinator(f.authority(), nil)

	res, err := c.Upload(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if res.UploadID != "up-1" || res.BlobPath != "pets/sess-1" {
		t.Errorf("result = %+v", res)
	}
	if res.PublicURL != "https://cdn.example.com/pets/sess-1" {
		t.Errorf("PublicURL = %q", res.PublicURL)
	}
	if res.Fallback {
		t.Error("Fallback set on primary success")
	}
	if got := string(f.blobs["sess-1"]); got != "raw-jpeg-bytes" {
		t.Errorf("blob = %q", got)
	}
	if len(f.confirms) != 1 {
		t.Fatalf("confirms = %d, want 1", len(f.confirms))
	}
	cr := f.confirms[0]
	if cr.UploadID != "up-1" || cr.BlobPath != "pets/sess-1" || cr.CustomerID != "cust-1" || cr.SessionID != "sess-1" {
		t.Errorf("confirm = %+v", cr)
	}
}

func TestUpload_ConfirmFailureIsNonFatal(t *testing.T) {
	f := newFakeAuthority(t)
	f.failConfirm = true
	c := NewCoordinator(f.authority(), nil)

	res, err := c.Upload(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Upload failed on confirm error: %v", err)
	}
	if res.UploadID != "up-1" {
		t.Errorf("result = %+v", res)
	}
	if _, ok := f.blobs["sess-1"]; !ok {
		t.Error("blob missing")
	}
}

func TestUpload_ProgressCallback(t *testing.T) {
	f := newFakeAuthority(t)
	c := NewCoordinator(f.authority(), nil)

	var lastSent, lastTotal int
	req := testRequest()
	req.OnProgress = func(sent, total int) { lastSent, lastTotal = sent, total }

	if _, err := c.Upload(context.Background(), req); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if lastTotal != len(req.Data) {
		t.Errorf("total = %d, want %d", lastTotal, len(req.Data))
	}
	if lastSent != lastTotal {
		t.Errorf("final sent = %d, want %d", lastSent, lastTotal)
	}
}

func TestUpload_FallbackOnSignFailure(t *testing.T) {
	primary := newFakeAuthority(t)
	primary.failSign = true
	fallback := newFakeAuthority(t)

	c := NewCoordinator(primary.authority(), fallback.authority())
	res, err := c.Upload(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !res.Fallback {
		t.Error("Fallback not set")
	}
	if _, ok := fallback.blobs["sess-1"]; !ok {
		t.Error("fallback blob missing")
	}
	if len(primary.blobs) != 0 {
		t.Errorf("primary received a blob despite sign failure")
	}
}

func TestUpload_FallbackOnPutFailure(t *testing.T) {
	primary := newFakeAuthority(t)
	primary.failPut = true
	fallback := newFakeAuthority(t)

	c := NewCoordinator(primary.authority(), fallback.authority())
	res, err := c.Upload(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !res.Fallback {
		t.Error("Fallback not set")
	}
	if _, ok := fallback.blobs["sess-1"]; !ok {
		t.Error("fallback blob missing")
	}
}

func TestUpload_NoFallbackSurfacesError(t *testing.T) {
	primary := newFakeAuthority(t)
	primary.failSign = true

	c := NewCoordinator(primary.authority(), nil)
	if _, err := c.Upload(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error without fallback")
	}
}

func TestUpload_EmptyPayloadRejected(t *testing.T) {
	f := newFakeAuthority(t)
	c := NewCoordinator(f.authority(), nil)

	req := testRequest()
	req.Data = nil
	if _, err := c.Upload(context.Background(), req); err == nil {
		t.Fatal("empty payload accepted")
	}
	if f.signCalls != 0 {
		t.Errorf("signCalls = %d, want 0", f.signCalls)
	}
}
