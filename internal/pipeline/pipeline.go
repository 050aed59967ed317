// Package pipeline orchestrates a full photo intake: sanitize customer
// input, store the original upload, request stylized effects, publish the
// artifacts, and persist the pet record.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/inkandpaw/pawkit/internal/artifact"
	"github.com/inkandpaw/pawkit/internal/pets"
	"github.com/inkandpaw/pawkit/internal/sanitize"
	"github.com/inkandpaw/pawkit/internal/upload"
)

// Uploader stores raw bytes via the signed-URL protocol.
// Implemented by upload.Coordinator.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (upload.Result, error)
}

// Stylizer produces named artifacts from a photo.
// Implemented by artifact.Client.
type Stylizer interface {
	Stylize(ctx context.Context, filename string, image []byte, effects []string) (artifact.Set, error)
}

// RecordSaver persists pet records. Implemented by pets.Store.
type RecordSaver interface {
	Save(id string, rec pets.Record) (pets.Record, error)
}

// Photo is one customer submission. Name and ArtistNote arrive raw and are
// sanitized inside the pipeline.
type Photo struct {
	PetID      string // empty selects a fresh id
	CustomerID string
	SessionID  string
	Name       string
	ArtistNote string
	Filename   string
	FileType   string
	Data       []byte
	Effects    []string
	Thumbnail  string
}

// Processor wires the intake pipeline together.
type Processor struct {
	uploader Uploader
	stylizer Stylizer
	records  RecordSaver
	logger   *slog.Logger

	// artifactLimit bounds concurrent artifact publications.
	artifactLimit int
}

// NewProcessor creates a Processor with the given collaborators.
func NewProcessor(uploader Uploader, stylizer Stylizer, records RecordSaver) *Processor {
	return &Processor{
		uploader:      uploader,
		stylizer:      stylizer,
		records:       records,
		logger:        slog.Default(),
		artifactLimit: 3,
	}
}

// Process runs the pipeline:
//  1. Sanitize name and artist note.
//  2. Upload the original photo (fatal on failure).
//  3. Stylize the photo into the requested effects (fatal on failure).
//  4. Publish each artifact concurrently; a failed effect is logged and
//     skipped, but at least one effect must survive.
//  5. Persist the pet record; the cart projection updates as part of the
//     save.
func (p *Processor) Process(ctx context.Context, in Photo) (pets.Record, error) {
	if len(in.Data) == 0 {
		return pets.Record{}, fmt.Errorf("process: empty photo")
	}
	if len(in.Effects) == 0 {
		return pets.Record{}, fmt.Errorf("process: no effects requested")
	}

	id := in.PetID
	if id == "" {
		id = uuid.New().String()
	}
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = id
	}

	if _, err := p.uploader.Upload(ctx, upload.Request{
		CustomerID: in.CustomerID,
		SessionID:  sessionID,
		FileType:   in.FileType,
		Data:       in.Data,
	}); err != nil {
		return pets.Record{}, fmt.Errorf("uploading original photo: %w", err)
	}

	set, err := p.stylizer.Stylize(ctx, in.Filename, in.Data, in.Effects)
	if err != nil {
		return pets.Record{}, fmt.Errorf("stylizing photo: %w", err)
	}

	effects := p.publishArtifacts(ctx, in, sessionID, set)
	if len(effects) == 0 {
		return pets.Record{}, fmt.Errorf("process: no effect artifact could be published")
	}

	rec, err := p.records.Save(id, pets.Record{
		Name:       sanitize.Name(in.Name),
		ArtistNote: sanitize.Note(in.ArtistNote),
		Effects:    effects,
		Thumbnail:  in.Thumbnail,
	})
	if err != nil {
		return pets.Record{}, fmt.Errorf("saving pet record: %w", err)
	}

	p.logger.Info("photo processed",
		"pet_id", rec.ID, "effects", len(rec.Effects))
	return rec, nil
}

// publishArtifacts uploads each stylized artifact and returns the effect map
// for the surviving ones. Per-effect failures degrade gracefully.
func (p *Processor) publishArtifacts(ctx context.Context, in Photo, sessionID string, set artifact.Set) map[string]pets.Effect {
	var mu sync.Mutex
	effects := make(map[string]pets.Effect, len(set.Artifacts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.artifactLimit)

	for name, data := range set.Artifacts {
		name, data := name, data
		g.Go(func() error {
			res, err := p.uploader.Upload(gCtx, upload.Request{
				CustomerID: in.CustomerID,
				SessionID:  sessionID + "-" + name,
				FileType:   in.FileType,
				Data:       data,
			})
			if err != nil {
				p.logger.Warn("publishing effect artifact failed, skipping",
					"effect", name, "error", err)
				return nil
			}
			url := sanitize.URL(res.PublicURL)
			if url == "" {
				p.logger.Warn("authority returned unusable public url, skipping",
					"effect", name)
				return nil
			}
			mu.Lock()
			effects[name] = pets.Effect{RemoteURL: url}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return effects
}
