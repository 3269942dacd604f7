package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
	"github.com/MikeL71221ibpm/iBPM-sub011/src/log"
)

// stepDelay controls how fast the built-in tasks advance. Tests override it.
var stepDelay = 500 * time.Millisecond

// Params carries the start-request options through to the task.
type Params struct {
	Source      string
	CSVFilePath string
}

// ReportFunc delivers a monotonic delta to the job record store.
type ReportFunc func(delta jobs.Delta) error

// TaskFunc performs the real work of one job, reporting progress as it
// goes. The note-parsing and symptom-extraction algorithms live behind
// this signature; the engine only cares about the reported deltas.
type TaskFunc func(ctx context.Context, params Params, report ReportFunc) error

// Runner owns one goroutine per active job and drives the record store.
type Runner struct {
	store *jobs.Store
	tasks map[jobs.Type]TaskFunc
	wg    sync.WaitGroup
}

func NewRunner(store *jobs.Store) *Runner {
	return &Runner{
		store: store,
		tasks: map[jobs.Type]TaskFunc{
			jobs.TypePreProcessing:  stagedTask(preProcessingStages),
			jobs.TypeExtraction:     stagedTask(extractionStages),
			jobs.TypeSymptomLibrary: stagedTask(symptomLibraryStages),
		},
	}
}

// Register replaces the task for a job type. Used to plug in the real
// processing algorithm or a test double.
func (r *Runner) Register(jobType jobs.Type, task TaskFunc) {
	r.tasks[jobType] = task
}

// Launch starts the worker goroutine for a freshly created job.
func (r *Runner) Launch(ctx context.Context, job *jobs.Job, params Params) error {
	task, ok := r.tasks[job.JobType]
	if !ok {
		return fmt.Errorf("no task registered for job type %s", job.JobType)
	}

	jobID := job.ID
	report := func(delta jobs.Delta) error {
		_, err := r.store.Advance(ctx, jobID, delta)
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		err := task(ctx, params, report)
		if err == nil {
			return
		}
		if errors.Is(err, jobs.ErrJobTerminal) || errors.Is(err, jobs.ErrJobNotFound) {
			// The record was superseded or already closed; nothing to report.
			log.Debug("Worker stopped on closed record", "job_id", jobID)
			return
		}
		log.Error(err, "Job failed", "job_id", jobID, "job_type", string(job.JobType))
		if _, ferr := r.store.Advance(ctx, jobID, jobs.Delta{
			Failed:  true,
			Message: err.Error(),
		}); ferr != nil && !errors.Is(ferr, jobs.ErrJobTerminal) && !errors.Is(ferr, jobs.ErrJobNotFound) {
			log.Error(ferr, "Failed to record job failure", "job_id", jobID)
		}
	}()
	return nil
}

// Wait blocks until all launched workers have returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

type stage struct {
	name     string
	fromPct  int
	toPct    int
	total    int
	unit     string
	stepSize int
}

var preProcessingStages = []stage{
	{name: "Validating uploaded records", fromPct: 0, toPct: 30, total: 100, unit: "files", stepSize: 20},
	{name: "Normalizing clinical notes", fromPct: 30, toPct: 80, total: 100, unit: "patients", stepSize: 10},
	{name: "Indexing notes", fromPct: 80, toPct: 100, total: 100, unit: "patients", stepSize: 20},
}

var extractionStages = []stage{
	{name: "Loading clinical notes", fromPct: 0, toPct: 20, total: 100, unit: "patients", stepSize: 20},
	{name: "Extracting symptoms", fromPct: 20, toPct: 90, total: 100, unit: "patients", stepSize: 10},
	{name: "Writing extraction results", fromPct: 90, toPct: 100, total: 100, unit: "patients", stepSize: 50},
}

var symptomLibraryStages = []stage{
	{name: "Scanning symptom corpus", fromPct: 0, toPct: 50, total: 100, unit: "symptoms", stepSize: 10},
	{name: "Building symptom library", fromPct: 50, toPct: 100, total: 100, unit: "symptoms", stepSize: 10},
}

// stagedTask builds a simulated task that walks the given stages,
// reporting "<processed>/<total> <unit>" messages as it advances. It
// stands in until the real processing pipeline is registered.
func stagedTask(stages []stage) TaskFunc {
	return func(ctx context.Context, params Params, report ReportFunc) error {
		for _, st := range stages {
			for processed := 0; processed <= st.total; processed += st.stepSize {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(stepDelay):
				}

				frac := float64(processed) / float64(st.total)
				progress := st.fromPct + int(frac*float64(st.toPct-st.fromPct))
				// 100 is reserved for the final completion report
				if progress > 99 {
					progress = 99
				}
				p := processed
				t := st.total
				if err := report(jobs.Delta{
					Progress:       progress,
					Stage:          st.name,
					Message:        fmt.Sprintf("%s: %d/%d %s", st.name, processed, st.total, st.unit),
					ProcessedItems: &p,
					TotalItems:     &t,
				}); err != nil {
					return err
				}
			}
		}
		return report(jobs.Delta{Progress: 100, Message: "Processing complete"})
	}
}
