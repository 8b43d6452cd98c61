package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes the exported ONNX model. It ships as JSON next to the
// .onnx file.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`

	// Per-channel RGB normalization applied after scaling pixels to [0,1].
	// Both empty means no normalization.
	Mean []float32 `json:"mean,omitempty"`
	Std  []float32 `json:"std,omitempty"`

	// Softmax is set when the model emits logits rather than probabilities.
	Softmax bool `json:"softmax"`

	InputName  string `json:"input_name,omitempty"`
	OutputName string `json:"output_name,omitempty"`
}

// Prediction is one label with its probability in [0,1].
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// LoadMetadata reads and validates a metadata file.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "output"
	}
	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

// Validate checks that the shapes agree with the image size and class list.
func (m Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata: no classes")
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("metadata: image_size must be positive, got %d", m.ImageSize)
	}
	want := int64(3 * m.ImageSize * m.ImageSize)
	if got := m.InputSize(); got != want {
		return fmt.Errorf("metadata: input_shape %v holds %d values, expected %d for a 3x%dx%d image",
			m.InputShape, got, want, m.ImageSize, m.ImageSize)
	}
	if got := shapeSize(m.OutputShape); got < int64(len(m.Classes)) {
		return fmt.Errorf("metadata: output_shape %v smaller than %d classes", m.OutputShape, len(m.Classes))
	}
	if len(m.Mean) != len(m.Std) || (len(m.Mean) != 0 && len(m.Mean) != 3) {
		return fmt.Errorf("metadata: mean and std must both be empty or have 3 entries")
	}
	for _, v := range m.Std {
		if v == 0 {
			return fmt.Errorf("metadata: std entries must be non-zero")
		}
	}
	return nil
}

// InputSize is the number of float32 values the model expects.
func (m Metadata) InputSize() int64 {
	return shapeSize(m.InputShape)
}

func shapeSize(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, dim := range shape {
		n *= dim
	}
	return n
}
