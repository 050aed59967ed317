package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/inkandpaw/pawkit/internal/artifact"
	"github.com/inkandpaw/pawkit/internal/pets"
	"github.com/inkandpaw/pawkit/internal/storage"
	"github.com/inkandpaw/pawkit/internal/upload"
)

type fakeUploader struct {
	mu       sync.Mutex
	requests []upload.Request
	// failSessions maps session ids whose upload should fail.
	failSessions map[string]bool
	failAll      bool
}

func (f *fakeUploader) Upload(ctx context.Context, req upload.Request) (upload.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failSessions[req.SessionID] {
		return upload.Result{}, errors.New("upload failed")
	}
	f.requests = append(f.requests, req)
	return upload.Result{
		UploadID:  "up-" + req.SessionID,
		BlobPath:  "pets/" + req.SessionID,
		PublicURL: "https://cdn.example.com/pets/" + req.SessionID,
	}, nil
}

type fakeStylizer struct {
	set artifact.Set
	err error
}

func (f *fakeStylizer) Stylize(ctx context.Context, filename string, image []byte, effects []string) (artifact.Set, error) {
	if f.err != nil {
		return artifact.Set{}, f.err
	}
	if f.set.Artifacts != nil {
		return f.set, nil
	}
	artifacts := make(map[string][]byte, len(effects))
	for _, e := range effects {
		artifacts[e] = []byte(e + "-img")
	}
	return artifact.Set{Kind: artifact.KindJSON, Artifacts: artifacts}, nil
}

type fakeSaver struct {
	mu    sync.Mutex
	saved map[string]pets.Record
	err   error
}

func (f *fakeSaver) Save(id string, rec pets.Record) (pets.Record, error) {
	if f.err != nil {
		return pets.Record{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]pets.Record)
	}
	rec.ID = id
	f.saved[id] = rec
	return rec, nil
}

func testPhoto() Photo {
	return Photo{
		CustomerID: "cust-1",
		SessionID:  "sess-1",
		Name:       "Biscuit",
		ArtistNote: "keep the collar",
		Filename:   "biscuit.jpg",
		FileType:   "image/jpeg",
		Data:       []byte("photo-bytes"),
		Effects:    []string{"modern", "classic"},
	}
}

func TestProcess_HappyPath(t *testing.T) {
	up := &fakeUploader{}
	saver := &fakeSaver{}
	p := NewProcessor(up, &fakeStylizer{}, saver)

	rec, err := p.Process(context.Background(), testPhoto())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if rec.Name != "Biscuit" || rec.ArtistNote != "keep the collar" {
		t.Errorf("record = %+v", rec)
	}
	if len(rec.Effects) != 2 {
		t.Fatalf("effects = %+v", rec.Effects)
	}
	for _, name := range []string{"modern", "classic"} {
		e, ok := rec.Effects[name]
		if !ok {
			t.Errorf("missing effect %s", name)
			continue
		}
		want := "https://cdn.example.com/pets/sess-1-" + name
		if e.RemoteURL != want {
			t.Errorf("effect %s url = %q, want %q", name, e.RemoteURL, want)
		}
	}

	// Original photo plus one upload per effect.
	if len(up.requests) != 3 {
		t.Errorf("uploads = %d, want 3", len(up.requests))
	}
	if _, ok := saver.saved[rec.ID]; !ok {
		t.Error("record not saved")
	}
}

func TestProcess_SanitizesCustomerInput(t *testing.T) {
	up := &fakeUploader{}
	p := NewProcessor(up, &fakeStylizer{}, &fakeSaver{})

	photo := testPhoto()
	photo.Name = "<script>alert(1)</script>Rex"
	photo.ArtistNote = `no <b>frames</b> & "quotes"`

	rec, err := p.Process(context.Background(), photo)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if strings.ContainsAny(rec.Name, `<>"'&`) {
		t.Errorf("unsafe name stored: %q", rec.Name)
	}
	if !strings.Contains(rec.Name, "Rex") {
		t.Errorf("legitimate name content lost: %q", rec.Name)
	}
	if strings.ContainsAny(rec.ArtistNote, `<>"'&`) {
		t.Errorf("unsafe note stored: %q", rec.ArtistNote)
	}
}

func TestProcess_AssignsIDWhenMissing(t *testing.T) {
	p := NewProcessor(&fakeUploader{}, &fakeStylizer{}, &fakeSaver{})

	photo := testPhoto()
	photo.PetID = ""
	photo.SessionID = ""

	rec, err := p.Process(context.Background(), photo)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rec.ID == "" {
		t.Error("no id assigned")
	}
}

func TestProcess_OriginalUploadFailureIsFatal(t *testing.T) {
	up := &fakeUploader{failAll: true}
	saver := &fakeSaver{}
	p := NewProcessor(up, &fakeStylizer{}, saver)

	if _, err := p.Process(context.Background(), testPhoto()); err == nil {
		t.Fatal("expected error")
	}
	if len(saver.saved) != 0 {
		t.Error("record saved despite failed upload")
	}
}

func TestProcess_StylizeFailureIsFatal(t *testing.T) {
	p := NewProcessor(&fakeUploader{}, &fakeStylizer{err: errors.New("model down")}, &fakeSaver{})

	_, err := p.Process(context.Background(), testPhoto())
	if err == nil || !strings.Contains(err.Error(), "model down") {
		t.Fatalf("err = %v", err)
	}
}

func TestProcess_FailedEffectSkippedNotFatal(t *testing.T) {
	up := &fakeUploader{failSessions: map[string]bool{"sess-1-classic": true}}
	p := NewProcessor(up, &fakeStylizer{}, &fakeSaver{})

	rec, err := p.Process(context.Background(), testPhoto())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok := rec.Effects["modern"]; !ok {
		t.Error("surviving effect missing")
	}
	if _, ok := rec.Effects["classic"]; ok {
		t.Error("failed effect present in record")
	}
}

func TestProcess_AllEffectsFailedIsFatal(t *testing.T) {
	up := &fakeUploader{failSessions: map[string]bool{
		"sess-1-modern":  true,
		"sess-1-classic": true,
	}}
	p := NewProcessor(up, &fakeStylizer{}, &fakeSaver{})

	if _, err := p.Process(context.Background(), testPhoto()); err == nil {
		t.Fatal("expected error when every effect fails to publish")
	}
}

func TestProcess_InputValidation(t *testing.T) {
	p := NewProcessor(&fakeUploader{}, &fakeStylizer{}, &fakeSaver{})

	photo := testPhoto()
	photo.Data = nil
	if _, err := p.Process(context.Background(), photo); err == nil {
		t.Error("empty photo accepted")
	}

	photo = testPhoto()
	photo.Effects = nil
	if _, err := p.Process(context.Background(), photo); err == nil {
		t.Error("empty effects accepted")
	}
}

func TestProcess_EndToEndWithRealStore(t *testing.T) {
	// Wire the real pets.Store (memory backend) under the pipeline to
	// confirm the projection updates as part of the save.
	store := newStoreForPipeline(t)
	p := NewProcessor(&fakeUploader{}, &fakeStylizer{}, store)

	rec, err := p.Process(context.Background(), testPhoto())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	cart := store.Cart()
	if len(cart) != 1 {
		t.Fatalf("cart = %+v", cart)
	}
	if cart[0].SessionKey != rec.ID {
		t.Errorf("cart session key = %q, want %q", cart[0].SessionKey, rec.ID)
	}
	if len(cart[0].Effects) != 2 {
		t.Errorf("cart effects = %+v", cart[0].Effects)
	}
}

func newStoreForPipeline(t *testing.T) *pets.Store {
	t.Helper()
	return pets.NewStore(storage.NewMemoryBackend(), pets.Options{})
}
