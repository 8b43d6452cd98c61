package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrNoPredictions is returned when the model produced no scores.
var ErrNoPredictions = errors.New("model returned no predictions")

// Server runs leaf images through an ONNX classifier. The session reuses a
// single pair of tensors, so inference is serialized.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewServer initializes ONNX Runtime and loads the model. libPath may be
// empty to use the runtime's default shared library lookup.
func NewServer(modelPath, metadataPath, libPath string) (*Server, error) {
	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Server{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Classify decodes the image at imagePath and returns every class ordered by
// descending confidence. ONNX inference itself cannot be interrupted; ctx is
// checked before the image is decoded and again before inference starts.
func (s *Server) Classify(ctx context.Context, imagePath string) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := LoadImage(imagePath)
	if err != nil {
		return nil, err
	}
	input := Preprocess(img, s.Metadata.ImageSize, s.Metadata.Mean, s.Metadata.Std)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores, err := s.predict(input)
	if err != nil {
		return nil, err
	}

	predictions := rankScores(scores, s.Metadata.Classes, s.Metadata.Softmax)
	if len(predictions) == 0 {
		return nil, ErrNoPredictions
	}
	return predictions, nil
}

func (s *Server) predict(inputData []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.inputTensor.GetData()
	if len(inputData) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(inputData))
	}
	copy(dst, inputData)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	src := s.outputTensor.GetData()
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

// Close releases the session, tensors and the runtime environment.
func (s *Server) Close() {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}
