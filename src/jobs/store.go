package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bwmarrin/snowflake"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
)

// EventsTopic carries one message per successful job mutation.
const EventsTopic = "job-events"

// Metadata keys set on every published job event.
const (
	MetaOwnerID = "owner_id"
	MetaJobType = "job_type"
)

// ArchiveRepository mirrors job records to durable storage for post-hoc
// inspection. Implementations must tolerate repeated saves of the same id.
type ArchiveRepository interface {
	Save(ctx context.Context, job *Job) error
}

type entry struct {
	mu         sync.Mutex
	job        Job
	superseded bool
}

// Store is the authoritative record store for jobs. Reads and writes for
// different jobs may run concurrently; writes for the same job serialize
// on the entry mutex (single writer per job id).
type Store struct {
	mu      sync.RWMutex
	byOwner map[ownerKey]*entry
	byID    map[string]*entry

	node      *snowflake.Node
	publisher message.Publisher
	archive   ArchiveRepository
}

type ownerKey struct {
	ownerID string
	jobType Type
}

// NewStore creates a job record store publishing mutations to the given
// publisher. archive may be nil when no durable mirror is configured.
func NewStore(publisher message.Publisher, archive ArchiveRepository) (*Store, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	return &Store{
		byOwner:   make(map[ownerKey]*entry),
		byID:      make(map[string]*entry),
		node:      node,
		publisher: publisher,
		archive:   archive,
	}, nil
}

// CreateOrReplace starts tracking a new job for (ownerID, jobType),
// superseding any prior record for the pair. Progress resets to zero and a
// fresh id is assigned.
func (s *Store) CreateOrReplace(ctx context.Context, ownerID string, jobType Type) (*Job, error) {
	now := time.Now()
	job := Job{
		ID:        s.node.Generate().String(),
		OwnerID:   ownerID,
		JobType:   jobType,
		Status:    StatusPending,
		Progress:  0,
		Message:   "Job queued",
		StartedAt: now,
		UpdatedAt: now,
	}

	e := &entry{job: job}

	s.mu.Lock()
	key := ownerKey{ownerID: ownerID, jobType: jobType}
	if prev, ok := s.byOwner[key]; ok {
		prev.mu.Lock()
		prev.superseded = true
		delete(s.byID, prev.job.ID)
		prev.mu.Unlock()
	}
	s.byOwner[key] = e
	s.byID[job.ID] = e
	s.mu.Unlock()

	s.afterMutation(ctx, &job)
	return &job, nil
}

// Advance applies a monotonic update to the job with the given id.
// Decreasing progress and writes to terminal records are rejected.
func (s *Store) Advance(ctx context.Context, id string, delta Delta) (*Job, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	e.mu.Lock()
	if e.superseded {
		// A newer job replaced this record between lookup and lock.
		e.mu.Unlock()
		return nil, ErrJobNotFound
	}
	if e.job.Status.Terminal() {
		e.mu.Unlock()
		return nil, ErrJobTerminal
	}

	if delta.Failed {
		e.job.Status = StatusError
		if delta.Message != "" {
			e.job.Message = delta.Message
		}
	} else {
		if delta.Progress < e.job.Progress {
			e.mu.Unlock()
			return nil, ErrStaleUpdate
		}
		e.job.Progress = delta.Progress
		if e.job.Progress > 100 {
			e.job.Progress = 100
		}
		if delta.Message != "" {
			e.job.Message = delta.Message
		}
		if delta.Stage != "" {
			e.job.Stage = delta.Stage
		}
		if delta.TotalItems != nil {
			e.job.TotalItems = delta.TotalItems
		}
		if delta.ProcessedItems != nil {
			processed := *delta.ProcessedItems
			if e.job.TotalItems != nil && processed > *e.job.TotalItems {
				processed = *e.job.TotalItems
			}
			e.job.ProcessedItems = &processed
		}
		if e.job.Progress >= 100 {
			e.job.Status = StatusCompleted
		} else {
			e.job.Status = StatusInProgress
		}
	}
	e.job.UpdatedAt = time.Now()
	job := e.job
	e.mu.Unlock()

	s.afterMutation(ctx, &job)
	return &job, nil
}

// Get returns the current record for (ownerID, jobType), or nil when no job
// has ever run for the pair.
func (s *Store) Get(ctx context.Context, ownerID string, jobType Type) (*Job, error) {
	s.mu.RLock()
	e, ok := s.byOwner[ownerKey{ownerID: ownerID, jobType: jobType}]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	job := e.job
	e.mu.Unlock()
	return &job, nil
}

func (s *Store) afterMutation(ctx context.Context, job *Job) {
	if s.archive != nil {
		if err := s.archive.Save(ctx, job); err != nil {
			log.Error(err, "Failed to archive job record", "job_id", job.ID)
		}
	}

	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(job)
	if err != nil {
		log.Error(err, "Failed to marshal job event", "job_id", job.ID)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetaOwnerID, job.OwnerID)
	msg.Metadata.Set(MetaJobType, string(job.JobType))
	if err := s.publisher.Publish(EventsTopic, msg); err != nil {
		log.Error(err, "Failed to publish job event", "job_id", job.ID)
	}
}
