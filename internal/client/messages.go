package client

import (
	"github.com/ZerkerEOD/permfarm/internal/permuter"
	"github.com/ZerkerEOD/permfarm/internal/port"
	"github.com/ZerkerEOD/permfarm/internal/profiler"
)

// MessageType is the "type" field of steady-state control messages.
type MessageType string

const (
	// client -> server
	TypeWork MessageType = "work"
	// both directions
	TypeFinish MessageType = "finish"
	// server -> client
	TypeNeedWork MessageType = "need_work"
	TypeResult   MessageType = "result"
)

type helloMessage struct {
	Method   string  `json:"method"`
	Priority float64 `json:"priority"`
}

type permuterInfo struct {
	FnName           string  `json:"fn_name"`
	Filename         string  `json:"filename"`
	KeepProb         float64 `json:"keep_prob"`
	StackDifferences bool    `json:"stack_differences"`
	CompileScript    string  `json:"compile_script"`
}

type registrationMessage struct {
	Permuters []permuterInfo `json:"permuters"`
}

type workMessage struct {
	Type     MessageType `json:"type"`
	Permuter int         `json:"permuter"`
	Seed     int64       `json:"seed"`
}

type finishMessage struct {
	Type MessageType `json:"type"`
}

// decodeResult turns the body of a "result" message into an EvalResult.
// source is the decompressed attachment, or nil.
func decodeResult(msg port.Object, source *string) (permuter.EvalResult, error) {
	if msg.Has("error") {
		text, err := port.Prop[string](msg, "error")
		if err != nil {
			return nil, err
		}
		return permuter.EvalError{Message: text}, nil
	}

	score, err := port.Prop[int](msg, "score")
	if err != nil {
		return nil, err
	}
	hash, err := port.Prop[string](msg, "hash")
	if err != nil {
		return nil, err
	}
	stats, err := port.Prop[port.Object](msg, "profiler")
	if err != nil {
		return nil, err
	}
	prof, err := profiler.FromJSON(stats)
	if err != nil {
		return nil, err
	}

	return permuter.CandidateResult{
		Score:    score,
		Hash:     hash,
		Source:   source,
		Profiler: prof,
	}, nil
}
