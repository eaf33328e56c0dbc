package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/govisionhq/lens/internal/render"
	"github.com/govisionhq/lens/internal/state"
)

// Exporter renders a completed job's detections onto its source image and
// saves the result as a PNG in the output directory.
type Exporter struct {
	http      *http.Client
	outputDir string
	log       *logrus.Logger
}

// NewExporter builds an Exporter writing into outputDir.
func NewExporter(outputDir string, log *logrus.Logger) *Exporter {
	if log == nil {
		log = logrus.New()
	}
	return &Exporter{
		http:      &http.Client{Timeout: 30 * time.Second},
		outputDir: outputDir,
		log:       log,
	}
}

// Export fetches the job's source image, annotates it, and writes
// govision-<jobID>.png. It returns the artifact path.
func (x *Exporter) Export(ctx context.Context, job state.Job) (string, error) {
	if job.ImageURL == "" {
		return "", fmt.Errorf("job %s has no image url", job.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.ImageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create image request: %w", err)
	}
	resp, err := x.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}

	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	annotated := render.Annotate(img, job.Detections)

	if err := os.MkdirAll(x.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(x.outputDir, fmt.Sprintf("govision-%s.png", job.ID))
	if err := imaging.Save(annotated, path); err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}

	x.log.WithFields(logrus.Fields{"job": job.ID, "path": path}).Info("exported annotated image")
	return path, nil
}
