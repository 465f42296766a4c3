package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// Session is a loaded model. Run calls are serialized.
type Session struct {
	path    string
	inputs  []onnxruntime_go.InputOutputInfo
	outputs []onnxruntime_go.InputOutputInfo

	mu      sync.Mutex
	session *onnxruntime_go.DynamicAdvancedSession
}

// OpenSession initializes the environment if needed and loads the model at
// modelPath with every input and output it declares.
func OpenSession(modelPath string, cfg Config) (*Session, error) {
	if modelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", modelPath, err)
	}
	if err := InitEnvironment(cfg); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares %d inputs and %d outputs", modelPath, len(inputs), len(outputs))
	}

	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	if err := ConfigureSessionForGPU(sessionOptions, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath,
		names(inputs), names(outputs), sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Debug("Model loaded", "model_path", modelPath, "inputs", names(inputs), "outputs", names(outputs))
	return &Session{path: modelPath, inputs: inputs, outputs: outputs, session: session}, nil
}

func names(infos []onnxruntime_go.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

// InputShape returns the declared shape of the first input; dynamic
// dimensions are negative.
func (s *Session) InputShape() []int64 {
	return append([]int64(nil), s.inputs[0].Dimensions...)
}

// OutputNames returns the output names in model order.
func (s *Session) OutputNames() []string { return names(s.outputs) }

// Run implements Runner.
func (s *Session) Run(inputs ...Tensor) ([]Output, error) {
	if len(inputs) != len(s.inputs) {
		return nil, fmt.Errorf("model %s expects %d inputs, got %d", s.path, len(s.inputs), len(inputs))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, errors.New("session is closed")
	}

	in := make([]onnxruntime_go.Value, len(inputs))
	defer destroyAll(in)
	for i, t := range inputs {
		v, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor %s: %w", s.inputs[i].Name, err)
		}
		in[i] = v
	}

	// nil outputs are allocated by onnxruntime with their runtime shape.
	out := make([]onnxruntime_go.Value, len(s.outputs))
	defer destroyAll(out)
	if err := s.session.Run(in, out); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	results := make([]Output, len(out))
	for i, v := range out {
		o := Output{Name: s.outputs[i].Name, Shape: append([]int64(nil), v.GetShape()...)}
		switch t := v.(type) {
		case *onnxruntime_go.Tensor[float32]:
			o.Float32 = append([]float32(nil), t.GetData()...)
		case *onnxruntime_go.Tensor[int64]:
			o.Int64 = append([]int64(nil), t.GetData()...)
		default:
			return nil, fmt.Errorf("output %s has unsupported type %T", o.Name, v)
		}
		results[i] = o
	}
	return results, nil
}

// Close releases the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

func destroyAll(values []onnxruntime_go.Value) {
	for _, v := range values {
		if v != nil {
			if err := v.Destroy(); err != nil {
				slog.Warn("Failed to destroy tensor", "error", err)
			}
		}
	}
}
