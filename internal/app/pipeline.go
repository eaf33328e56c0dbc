package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/govisionhq/lens/internal/govision"
	"github.com/govisionhq/lens/internal/state"
)

const (
	// DefaultConcurrency is the upload worker pool width.
	DefaultConcurrency = 3
	// DefaultMaxUploadBytes is the per-file size bound (5 MiB).
	DefaultMaxUploadBytes = 5 << 20

	networkErrorMessage = "Network error"
)

// allowedMIMETypes is the upload allow-list, matched against the sniffed
// content type rather than the file extension.
var allowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
}

// Registrar is notified when a real (server-confirmed) job starts tracking.
// Implemented by *Engine.
type Registrar interface {
	Ensure(ctx context.Context)
}

// Pipeline drives a batch of files through validation and a fixed-width
// upload pool. One file's failure never aborts its siblings.
type Pipeline struct {
	store       *state.Store
	uploader    govision.Uploader
	poller      Registrar
	concurrency int
	maxBytes    int64
	log         *logrus.Logger
}

// NewPipeline builds a Pipeline. Zero concurrency and maxBytes fall back to
// the defaults.
func NewPipeline(store *state.Store, uploader govision.Uploader, poller Registrar, concurrency int, maxBytes int64, log *logrus.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if log == nil {
		log = logrus.New()
	}
	return &Pipeline{
		store:       store,
		uploader:    uploader,
		poller:      poller,
		concurrency: concurrency,
		maxBytes:    maxBytes,
		log:         log,
	}
}

type candidate struct {
	name string
	data []byte
}

// Run validates the given paths and uploads every accepted file through the
// worker pool. It returns after every lane has drained the shared queue,
// regardless of individual upload failures.
func (p *Pipeline) Run(ctx context.Context, paths []string) {
	batch := p.filter(paths)
	if len(batch) == 0 {
		return
	}

	queue := make(chan candidate, len(batch))
	for _, c := range batch {
		queue <- c
	}
	close(queue)

	lanes := p.concurrency
	if lanes > len(batch) {
		lanes = len(batch)
	}

	var wg sync.WaitGroup
	for i := 0; i < lanes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range queue {
				p.uploadOne(ctx, c)
			}
		}()
	}
	wg.Wait()
}

// filter drops files that fail the type or size checks and exact duplicates
// within the batch (by name+size). Rejections are logged, never surfaced.
func (p *Pipeline) filter(paths []string) []candidate {
	seen := make(map[string]struct{})
	var batch []candidate
	for _, path := range paths {
		name := filepath.Base(path)
		info, err := os.Stat(path)
		if err != nil {
			p.log.WithField("file", name).WithError(err).Warn("skipping unreadable file")
			continue
		}
		if info.IsDir() {
			p.log.WithField("file", name).Warn("skipping directory")
			continue
		}
		// Reject on the stat size so an oversized file is never read into
		// memory just to be dropped.
		if info.Size() > p.maxBytes {
			p.log.WithFields(logrus.Fields{"file": name, "size": info.Size()}).Warn("skipping oversized file")
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			p.log.WithField("file", name).WithError(err).Warn("skipping unreadable file")
			continue
		}
		mime := http.DetectContentType(data)
		if _, ok := allowedMIMETypes[mime]; !ok {
			p.log.WithFields(logrus.Fields{"file": name, "type": mime}).Warn("skipping unsupported file type")
			continue
		}
		key := fmt.Sprintf("%s|%d", name, len(data))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		batch = append(batch, candidate{name: name, data: data})
	}
	return batch
}

// uploadOne registers a provisional placeholder, uploads the file, and then
// replaces the placeholder with either the server-confirmed job or a terminal
// failed record under the same temporary id.
func (p *Pipeline) uploadOne(ctx context.Context, c candidate) {
	tempID := "temp-" + uuid.NewString()
	p.store.Set(state.Job{
		ID:          tempID,
		FileName:    c.name,
		Status:      state.StatusUploading,
		CreatedAt:   time.Now(),
		Provisional: true,
	})

	resp, err := p.uploader.UploadImage(ctx, c.name, c.data)
	if err != nil {
		message := networkErrorMessage
		var apiErr *govision.APIError
		switch {
		case errors.As(err, &apiErr):
			message = apiErr.Message
		case errors.Is(err, govision.ErrSessionExpired):
			message = govision.ErrSessionExpired.Error()
		}
		failed := state.StatusFailed
		provisional := true
		p.store.Replace(tempID, tempID, state.Patch{
			FileName:    &c.name,
			Status:      &failed,
			Error:       &message,
			Provisional: &provisional,
		})
		p.log.WithField("file", c.name).WithError(err).Error("upload failed")
		return
	}

	status := state.StatusQueued
	if resp.Status != "" {
		status = state.Status(resp.Status)
	}
	notProvisional := false
	p.store.Replace(tempID, resp.JobID, state.Patch{
		FileName:    &c.name,
		Status:      &status,
		Provisional: &notProvisional,
	})
	p.log.WithFields(logrus.Fields{"file": c.name, "job": resp.JobID, "status": status}).Info("upload accepted")
	p.poller.Ensure(ctx)
}
