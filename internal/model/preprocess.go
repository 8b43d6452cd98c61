package model

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// LoadImage decodes the image at path, applying any EXIF orientation so
// phone photos reach the model upright.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Preprocess converts an image to the planar RGB float32 layout the model
// expects: size×size, channels first, values scaled to [0,1] and then
// normalized with mean/std when given.
func Preprocess(img image.Image, size int, mean, std []float32) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	inputData := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			pixelIndex := y*width + x
			inputData[pixelIndex] = float32(r) / 65535.0
			inputData[plane+pixelIndex] = float32(g) / 65535.0
			inputData[2*plane+pixelIndex] = float32(b) / 65535.0
		}
	}

	if len(mean) == 3 && len(std) == 3 {
		for c := 0; c < 3; c++ {
			channel := inputData[c*plane : (c+1)*plane]
			for i := range channel {
				channel[i] = (channel[i] - mean[c]) / std[c]
			}
		}
	}

	return inputData
}

// rankScores pairs raw model outputs with class labels and orders them by
// descending confidence. Extra outputs beyond the class list are ignored.
func rankScores(scores []float32, classes []string, applySoftmax bool) []Prediction {
	n := min(len(scores), len(classes))
	probs := make([]float64, n)
	for i := 0; i < n; i++ {
		probs[i] = float64(scores[i])
	}
	if applySoftmax {
		softmax(probs)
	}

	predictions := make([]Prediction, n)
	for i := 0; i < n; i++ {
		predictions[i] = Prediction{Label: classes[i], Confidence: clamp01(probs[i])}
	}
	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Confidence > predictions[j].Confidence
	})
	return predictions
}

func softmax(v []float64) {
	if len(v) == 0 {
		return
	}
	maxVal := v[0]
	for _, x := range v[1:] {
		maxVal = max(maxVal, x)
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - maxVal)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
