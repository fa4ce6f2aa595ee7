// Edgewatch - IoT Security Telemetry Pipeline
// Copyright 2026 Edgewatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/edgewatch/edgewatch

package scoring

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/edgewatch/edgewatch/internal/telemetry"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXScorer runs the exported anomaly model through ONNX Runtime. The
// session is created once and reused across calls; Score itself is cheap.
type ONNXScorer struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	arity      int64

	mu     sync.Mutex
	closed bool
}

// NewONNXScorer loads the anomaly model and creates an inference session.
// The ONNX Runtime shared library is expected alongside the model file.
// Load failures are reported as ErrScorerUnavailable so callers can treat
// a missing model the same as an unreachable one.
func NewONNXScorer(modelPath string) (*ONNXScorer, error) {
	libPath := filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("%w: initialize runtime: %v", ErrScorerUnavailable, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read model info: %v", ErrScorerUnavailable, err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("%w: expected single-input single-output model, got %d/%d",
			ErrScorerUnavailable, len(inputs), len(outputs))
	}

	// Expect a [batch, arity] input; the last dimension is the feature
	// arity the model was trained against. Models exported with a dynamic
	// feature dimension fall back to the pipeline's fixed arity.
	dims := inputs[0].Dimensions
	if len(dims) != 2 {
		return nil, fmt.Errorf("%w: expected 2D input tensor, got %v", ErrScorerUnavailable, dims)
	}
	arity := dims[1]
	if arity <= 0 {
		arity = telemetry.FeatureArity
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: create session options: %v", ErrScorerUnavailable, err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(1)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrScorerUnavailable, err)
	}

	return &ONNXScorer{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		arity:      arity,
	}, nil
}

// Score runs a single inference call for one feature vector.
func (s *ONNXScorer) Score(ctx context.Context, features []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: session closed", ErrScorerUnavailable)
	}
	if int64(len(features)) != s.arity {
		return 0, fmt.Errorf("%w: feature arity %d, model wants %d",
			ErrScorerUnavailable, len(features), s.arity)
	}

	input := make([]float32, len(features))
	for i, f := range features {
		input[i] = float32(f)
	}

	tIn, err := ort.NewTensor(ort.NewShape(1, s.arity), input)
	if err != nil {
		return 0, fmt.Errorf("%w: create input tensor: %v", ErrScorerUnavailable, err)
	}
	defer tIn.Destroy()

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("%w: create output tensor: %v", ErrScorerUnavailable, err)
	}
	defer tOut.Destroy()

	if err := s.session.Run([]ort.Value{tIn}, []ort.Value{tOut}); err != nil {
		return 0, fmt.Errorf("%w: inference failed: %v", ErrScorerUnavailable, err)
	}

	return float64(tOut.GetData()[0]), nil
}

// Close destroys the inference session. Subsequent Score calls fail with
// ErrScorerUnavailable.
func (s *ONNXScorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.session.Destroy()
}
