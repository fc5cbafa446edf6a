/*
 * Package permuter holds the types shared between the local search engine and
 * the farm client.
 *
 * Queues:
 *   - Task: local producer -> Connection (work to send to a server)
 *   - Feedback: Connection -> local consumer (server events)
 *
 * Both unions are sealed interfaces; consumers dispatch with a type switch.
 */
package permuter

import "github.com/ZerkerEOD/permfarm/internal/profiler"

// Permuter is one local job: a function whose source is being permuted until
// it compiles to the reference object.
type Permuter struct {
	FnName     string
	SourceFile string // declared path of the source, as the server should name it
	Source     string

	KeepProb         float64
	StackDifferences bool

	// Baseline of the unmodified source, computed locally
	BaseScore int
	BaseHash  string

	TargetO       string // path to the reference object file
	CompileScript string // path to the captured compile script
}

// Task is a unit handed to a Connection: Work or Finished.
type Task interface {
	isTask()
}

// Work asks a server to evaluate one seeded variant of a registered permuter.
type Work struct {
	Permuter int
	Seed     int64
}

// Finished tells the Connection that no more work will be produced.
type Finished struct{}

func (Work) isTask()     {}
func (Finished) isTask() {}

// Feedback is one event from a Connection, tagged with the server nickname.
// Server is empty for SessionEnded.
type Feedback struct {
	Item   FeedbackItem
	Server string
}

// FeedbackItem is NeedMoreWork, WorkDone, Note or SessionEnded.
type FeedbackItem interface {
	isFeedback()
}

// NeedMoreWork asks the producer to queue another task.
type NeedMoreWork struct{}

// WorkDone carries the evaluation result for a registered permuter.
type WorkDone struct {
	Permuter int
	Result   EvalResult
}

// Note is a diagnostic worth showing to the operator.
type Note struct {
	Text string
}

// SessionEnded is always the last item of a session. An empty Reason means the
// session finished gracefully.
type SessionEnded struct {
	Reason string
}

func (NeedMoreWork) isFeedback() {}
func (WorkDone) isFeedback()     {}
func (Note) isFeedback()         {}
func (SessionEnded) isFeedback() {}

// EvalResult is CandidateResult or EvalError.
type EvalResult interface {
	isEvalResult()
}

// CandidateResult is a successfully scored candidate.
type CandidateResult struct {
	Score    int
	Hash     string
	Source   *string // set only when the server attached the candidate source
	Profiler *profiler.Profiler
}

// EvalError reports that a candidate could not be evaluated.
type EvalError struct {
	Message string
}

func (CandidateResult) isEvalResult() {}
func (EvalError) isEvalResult()       {}
