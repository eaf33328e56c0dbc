package state

import (
	"sort"
	"sync"
	"time"

	"github.com/govisionhq/lens/internal/govision"
)

// Status is the job lifecycle state reported by the server, plus the local
// "uploading" state used by provisional jobs.
type Status string

const (
	StatusUploading Status = "uploading"
	StatusQueued    Status = "queued"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions occur from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one tracked unit of work for an uploaded image. A provisional job is
// a purely local placeholder for an in-flight upload; it is replaced, not
// merged, once the server assigns a real id.
type Job struct {
	ID           string
	FileName     string
	Status       Status
	ImageURL     string
	Detections   []govision.Detection
	Error        string
	Downloaded   bool
	ArtifactPath string
	CreatedAt    time.Time
	Provisional  bool
}

// Patch is a partial update to a Job. Nil fields leave the current value
// untouched; merging is field-by-field so one writer cannot stomp another's
// unrelated fields.
type Patch struct {
	FileName     *string
	Status       *Status
	ImageURL     *string
	Detections   []govision.Detection
	Error        *string
	Downloaded   *bool
	ArtifactPath *string
	Provisional  *bool
}

// Store is a keyed map of jobs guarded by a mutex.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]Job)}
}

func defaultJob(id string) Job {
	return Job{
		ID:        id,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
}

// Set stores job keyed by its id, replacing any existing record.
func (s *Store) Set(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Get returns the job with the given id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Merge applies patch to the existing job, creating a default record when the
// id is unknown, and returns the merged result.
func (s *Store) Merge(id string, patch Patch) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		job = defaultJob(id)
	}
	job = applyPatch(job, patch)
	job.ID = id
	s.jobs[id] = job
	return job
}

// Replace removes the job stored under oldID and creates a fresh record under
// newID with patch applied. Used when a provisional upload placeholder is
// superseded by the server-assigned job, and when it fails in place
// (oldID == newID).
func (s *Store) Replace(oldID, newID string, patch Patch) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, oldID)
	job := applyPatch(defaultJob(newID), patch)
	job.ID = newID
	s.jobs[newID] = job
	return job
}

// Delete removes the job with the given id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// PendingIDs returns the ids of all non-provisional jobs that have not yet
// reached a terminal status.
func (s *Store) PendingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, job := range s.jobs {
		if !job.Provisional && !job.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns an independent copy of all jobs, newest first.
func (s *Store) Snapshot() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		job.Detections = cloneDetections(job.Detections)
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

func applyPatch(job Job, patch Patch) Job {
	if patch.FileName != nil {
		job.FileName = *patch.FileName
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.ImageURL != nil {
		job.ImageURL = *patch.ImageURL
	}
	if patch.Detections != nil {
		job.Detections = cloneDetections(patch.Detections)
	}
	if patch.Error != nil {
		job.Error = *patch.Error
	}
	if patch.Downloaded != nil {
		job.Downloaded = *patch.Downloaded
	}
	if patch.ArtifactPath != nil {
		job.ArtifactPath = *patch.ArtifactPath
	}
	if patch.Provisional != nil {
		job.Provisional = *patch.Provisional
	}
	return job
}

func cloneDetections(detections []govision.Detection) []govision.Detection {
	if len(detections) == 0 {
		return nil
	}
	dup := make([]govision.Detection, len(detections))
	copy(dup, detections)
	return dup
}
