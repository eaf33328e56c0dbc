package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/govisionhq/lens/internal/creds"
	"github.com/govisionhq/lens/internal/govision"
	"github.com/govisionhq/lens/internal/state"
)

// TestUploadPollExportRoundTrip drives the real client, pipeline, engine, and
// exporter against a scripted server: one upload whose job walks
// queued -> pending -> completed must produce exactly one annotated artifact.
func TestUploadPollExportRoundTrip(t *testing.T) {
	imageBytes := encodePNG(t, 100, 100)

	var mu sync.Mutex
	polls := 0
	statuses := []string{"queued", "pending", "completed"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/image/upload":
			if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
				t.Errorf("upload Authorization = %q", auth)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(govision.UploadResponse{JobID: "abc123", Status: "queued"})
		case r.URL.Path == "/jobs/abc123":
			mu.Lock()
			idx := polls
			if idx >= len(statuses) {
				idx = len(statuses) - 1
			}
			polls++
			mu.Unlock()
			resp := govision.JobStatusResponse{Status: statuses[idx]}
			if statuses[idx] == "completed" {
				resp.ImageURL = "http://" + r.Host + "/img.png"
				resp.Predictions = []govision.Detection{
					{CenterX: 50, CenterY: 50, Width: 20, Height: 20, ClassID: 1, Confidence: 0.9, ClassLabel: "cat"},
				}
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(resp)
		case r.URL.Path == "/img.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(imageBytes)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	credStore, err := creds.NewStore(filepath.Join(t.TempDir(), "credentials.toml"))
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	if err := credStore.Save(govision.Credential{AccessToken: "tok", RefreshToken: "ref", Identity: "user@example.com"}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	client, err := govision.NewClient(server.URL, credStore)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	jobs := state.NewStore()
	outDir := filepath.Join(t.TempDir(), "out")
	exporter := NewExporter(outDir, quietLogger())

	var exports int
	var exportMu sync.Mutex
	onComplete := func(ctx context.Context, job state.Job) {
		path, err := exporter.Export(ctx, job)
		if err != nil {
			t.Errorf("export failed: %v", err)
			return
		}
		jobs.Merge(job.ID, state.Patch{ArtifactPath: &path})
		exportMu.Lock()
		exports++
		exportMu.Unlock()
	}

	engine := NewEngine(jobs, client, 10*time.Millisecond, quietLogger(), onComplete)
	t.Cleanup(engine.Stop)
	pipeline := NewPipeline(jobs, client, engine, 3, 0, quietLogger())

	src := writePNG(t, t.TempDir(), "cat.png", 512)
	ctx := context.Background()
	pipeline.Run(ctx, []string{src})

	// The provisional job has been replaced by the server-assigned one.
	job, ok := jobs.Get("abc123")
	if !ok {
		t.Fatal("job abc123 missing after upload")
	}
	if job.Provisional {
		t.Fatal("confirmed job still provisional")
	}

	waitForIdle(ctx, engine)

	job, _ = jobs.Get("abc123")
	if job.Status != state.StatusCompleted || !job.Downloaded {
		t.Fatalf("job = %#v, want completed and downloaded", job)
	}
	exportMu.Lock()
	got := exports
	exportMu.Unlock()
	if got != 1 {
		t.Fatalf("exports = %d, want exactly 1", got)
	}
	if _, err := os.Stat(filepath.Join(outDir, "govision-abc123.png")); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}

func TestPrintSummary(t *testing.T) {
	jobs := state.NewStore()
	now := time.Now()
	jobs.Set(state.Job{ID: "abc", FileName: "cat.png", Status: state.StatusCompleted,
		ArtifactPath: "/tmp/govision-abc.png", CreatedAt: now,
		Detections: []govision.Detection{{ClassID: 1}}})
	jobs.Set(state.Job{ID: "temp-1", FileName: "dog.png", Status: state.StatusFailed,
		Error: "Upload failed", CreatedAt: now.Add(time.Second), Provisional: true})

	var buf bytes.Buffer
	printSummary(&buf, jobs)
	out := buf.String()

	for _, want := range []string{"abc", "cat.png", "completed", "/tmp/govision-abc.png", "dog.png", "Upload failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printSummary(&buf, state.NewStore())
	if !strings.Contains(buf.String(), "no files accepted") {
		t.Fatalf("empty summary = %q", buf.String())
	}
}
