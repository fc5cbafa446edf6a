/*
 * Package dispatch is the local producer/consumer on the other side of the
 * farm client's queues.
 *
 * It keeps exactly one task queued for every server event that asks for one
 * (the initial NeedMoreWork, each later NeedMoreWork and each WorkDone),
 * cycles through the jobs with an increasing seed, and tracks the best score
 * per job. Lower scores are better; 0 is a perfect match.
 *
 * On shutdown it queues one Finished per live session and keeps consuming
 * feedback until every session has reported SessionEnded.
 */
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZerkerEOD/permfarm/internal/permuter"
	"github.com/ZerkerEOD/permfarm/internal/profiler"
	"github.com/ZerkerEOD/permfarm/pkg/console"
	"github.com/ZerkerEOD/permfarm/pkg/debug"
)

// Options tunes a Dispatcher.
type Options struct {
	// OutputDir receives improved sources as <fn_name>-<score>.c. Empty
	// disables writing.
	OutputDir string
	// FirstSeed is the seed of the first Work task.
	FirstSeed int64
}

// JobSummary is the outcome for one job.
type JobSummary struct {
	FnName      string
	BaseScore   int
	BestScore   int
	BestHash    string
	Improved    bool
	Evaluations int
	Failures    int
}

// Summary is returned by Run once every session has ended.
type Summary struct {
	Jobs        []JobSummary
	Evaluations int
	Failures    int
	// Reasons holds each session's end reason in the order they ended
	Reasons  []string
	Profiler *profiler.Profiler
	Elapsed  time.Duration
}

// Dispatcher feeds the shared task queue and drains the shared feedback queue.
type Dispatcher struct {
	perms    []*permuter.Permuter
	tasks    chan<- permuter.Task
	feedback <-chan permuter.Feedback
	opts     Options

	nextJob  int
	nextSeed int64
	summary  *Summary
}

// New creates a dispatcher for the given jobs. perms must be the same slice,
// in the same order, that was handed to the client sessions.
func New(perms []*permuter.Permuter, tasks chan<- permuter.Task, feedback <-chan permuter.Feedback, opts Options) *Dispatcher {
	jobs := make([]JobSummary, len(perms))
	for i, p := range perms {
		jobs[i] = JobSummary{
			FnName:    p.FnName,
			BaseScore: p.BaseScore,
			BestScore: p.BaseScore,
			BestHash:  p.BaseHash,
		}
	}

	return &Dispatcher{
		perms:    perms,
		tasks:    tasks,
		feedback: feedback,
		opts:     opts,
		nextSeed: opts.FirstSeed,
		summary: &Summary{
			Jobs:     jobs,
			Profiler: profiler.New(),
		},
	}
}

// Run dispatches until all sessions have ended. sessions is the number of
// client sessions currently sharing the queues. Cancelling ctx starts a
// graceful shutdown; Run still waits for every SessionEnded.
func (d *Dispatcher) Run(ctx context.Context, sessions int) *Summary {
	start := time.Now()
	live := sessions
	stopping := false
	done := ctx.Done()

	// Tasks wait here instead of blocking on the queue, so feedback keeps
	// flowing while every session is busy
	var pending []permuter.Task

	for live > 0 {
		var out chan<- permuter.Task
		var next permuter.Task
		if len(pending) > 0 {
			out = d.tasks
			next = pending[0]
		}

		select {
		case out <- next:
			pending = pending[1:]

		case <-done:
			debug.Info("Shutting down, finishing %d sessions", live)
			console.Status("Stopping: waiting for %d sessions to finish", live)
			stopping = true
			done = nil
			pending = pending[:0]
			for i := 0; i < live; i++ {
				pending = append(pending, permuter.Finished{})
			}

		case fb := <-d.feedback:
			switch item := fb.Item.(type) {
			case permuter.NeedMoreWork:
				if !stopping && len(d.perms) > 0 {
					pending = append(pending, d.nextWork())
				}
			case permuter.WorkDone:
				d.handleResult(fb.Server, item)
				if !stopping && len(d.perms) > 0 {
					pending = append(pending, d.nextWork())
				}
			case permuter.Note:
				console.Info("[%s] %s", fb.Server, item.Text)
			case permuter.SessionEnded:
				live--
				d.summary.Reasons = append(d.summary.Reasons, item.Reason)
				if item.Reason == "" {
					console.Info("Session finished (%d still running)", live)
				} else {
					console.Warning("Session ended: %s (%d still running)", item.Reason, live)
				}
			default:
				debug.Warning("Ignoring unexpected feedback %T", fb.Item)
			}
		}
	}

	d.summary.Elapsed = time.Since(start)
	return d.summary
}

func (d *Dispatcher) nextWork() permuter.Work {
	w := permuter.Work{Permuter: d.nextJob, Seed: d.nextSeed}
	d.nextJob = (d.nextJob + 1) % len(d.perms)
	d.nextSeed++
	return w
}

func (d *Dispatcher) handleResult(server string, done permuter.WorkDone) {
	if done.Permuter < 0 || done.Permuter >= len(d.summary.Jobs) {
		debug.Error("Result for unknown job %d from %s", done.Permuter, server)
		return
	}
	job := &d.summary.Jobs[done.Permuter]
	job.Evaluations++
	d.summary.Evaluations++
	console.Progress("Evaluated %d candidates, %d failed", d.summary.Evaluations, d.summary.Failures)

	switch r := done.Result.(type) {
	case permuter.EvalError:
		job.Failures++
		d.summary.Failures++
		console.Warning("[%s] %s: %s", server, job.FnName, r.Message)

	case permuter.CandidateResult:
		d.summary.Profiler.Merge(r.Profiler)
		if r.Score >= job.BestScore {
			return
		}
		job.BestScore = r.Score
		job.BestHash = r.Hash
		job.Improved = true

		if r.Score == 0 {
			console.Success("[%s] %s: found a match!", server, job.FnName)
		} else {
			console.Success("[%s] %s: found improvement, score %d (base %d)", server, job.FnName, r.Score, job.BaseScore)
		}
		if r.Source != nil && d.opts.OutputDir != "" {
			if err := d.writeSource(job.FnName, r.Score, *r.Source); err != nil {
				debug.Error("Failed to save improvement: %v", err)
				console.Warning("Could not save improvement for %s: %v", job.FnName, err)
			}
		}
	}
}

func (d *Dispatcher) writeSource(fnName string, score int, source string) error {
	if err := os.MkdirAll(d.opts.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(d.opts.OutputDir, fmt.Sprintf("%s-%d.c", fnName, score))
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	debug.Info("Wrote improved source to %s", path)
	return nil
}
