// Package diagnosis runs one uploaded leaf image through the classifier and
// the explainer and assembles what the user sees.
//
// The two calls fail differently. A classifier failure ends the request with
// ClassificationFailed and nothing else filled in. An explainer failure is
// absorbed: the response keeps its predictions and treatment and carries
// ExplanationFailed in place of the explanation.
package diagnosis

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/Brownie44l1/leaf-doctor/internal/model"
	"github.com/Brownie44l1/leaf-doctor/internal/treatment"
	"github.com/Brownie44l1/leaf-doctor/internal/upload"
)

// User-facing messages.
const (
	ClassificationFailed = "Model failed to analyze image"
	ExplanationFailed    = "Failed to get explanation from Ollama."
	ProcessingFailed     = "Failed to process uploaded image"
	LowConfidenceWarning = "⚠️ Prediction confidence is low. Results may be inaccurate due to image quality."
)

// DefaultMaxResults is used when Options.MaxResults is not positive.
const DefaultMaxResults = 3

// ErrClassification marks a classifier failure, including an empty result.
var ErrClassification = errors.New("classification failed")

// Classifier labels the image stored at imagePath. Predictions come back in
// descending confidence order.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) ([]model.Prediction, error)
}

// Explainer describes a disease label in natural language.
type Explainer interface {
	Explain(ctx context.Context, label string) (string, error)
}

// Catalog looks up remediation guidance. Lookup never fails; unknown labels
// yield an empty record.
type Catalog interface {
	Lookup(label string) treatment.Record
}

// Result is one ranked prediction as displayed.
type Result struct {
	Label             string  `json:"label"`
	ConfidencePercent float64 `json:"confidence_percent"`
}

// Response is everything rendered for one request. Either Error is set and
// the rest is empty, or Error is empty.
type Response struct {
	Results     []Result         `json:"results"`
	Explanation string           `json:"explanation"`
	Treatment   treatment.Record `json:"treatment"`
	ImageURL    string           `json:"image_url"`
	Warning     string           `json:"warning"`
	Error       string           `json:"error"`
}

// Failed builds the error-only response.
func Failed(msg string) Response {
	return Response{
		Results:   []Result{},
		Treatment: treatment.Empty(),
		Error:     msg,
	}
}

// Options tunes the ranking and warning policy and bounds the external calls.
// A zero timeout leaves that call bounded only by the caller's context.
type Options struct {
	ConfidenceThreshold float64
	MaxResults          int
	ClassifyTimeout     time.Duration
	ExplainTimeout      time.Duration
	Logger              *slog.Logger
}

// Service sequences classification, explanation and treatment lookup.
type Service struct {
	classifier Classifier
	explainer  Explainer
	catalog    Catalog
	opts       Options
	logger     *slog.Logger
}

// New creates a Service. MaxResults <= 0 falls back to DefaultMaxResults; a
// nil Logger uses slog.Default().
func New(cls Classifier, exp Explainer, cat Catalog, opts Options) *Service {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		classifier: cls,
		explainer:  exp,
		catalog:    cat,
		opts:       opts,
		logger:     logger,
	}
}

// Diagnose runs the pipeline for an already stored image. Each external call
// is attempted exactly once.
func (s *Service) Diagnose(ctx context.Context, img upload.StoredImage) Response {
	predictions, err := s.classify(ctx, img.Path)
	if err != nil {
		s.logger.Error("classification failed", "image", img.Name, "err", err)
		return Failed(ClassificationFailed)
	}

	top := predictions[0]
	s.logger.Info("classified", "image", img.Name, "label", top.Label, "confidence", top.Confidence)

	explanation, err := s.explain(ctx, top.Label)
	if err != nil {
		s.logger.Warn("explanation failed", "label", top.Label, "err", err)
		explanation = ExplanationFailed
	}

	resp := Response{
		Results:     Rank(predictions, s.opts.MaxResults),
		Explanation: explanation,
		Treatment:   s.catalog.Lookup(top.Label),
		ImageURL:    img.URL,
	}
	if top.Confidence < s.opts.ConfidenceThreshold {
		resp.Warning = LowConfidenceWarning
	}
	return resp
}

func (s *Service) classify(ctx context.Context, path string) ([]model.Prediction, error) {
	if s.opts.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ClassifyTimeout)
		defer cancel()
	}

	predictions, err := s.classifier.Classify(ctx, path)
	if err != nil {
		return nil, errors.Join(ErrClassification, err)
	}
	if len(predictions) == 0 {
		return nil, errors.Join(ErrClassification, model.ErrNoPredictions)
	}
	return predictions, nil
}

func (s *Service) explain(ctx context.Context, label string) (string, error) {
	if s.opts.ExplainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ExplainTimeout)
		defer cancel()
	}
	return s.explainer.Explain(ctx, label)
}

// Rank keeps the first maxResults predictions and converts each confidence to
// a percentage rounded to two decimals. The input order is preserved.
func Rank(predictions []model.Prediction, maxResults int) []Result {
	n := min(len(predictions), max(maxResults, 0))
	results := make([]Result, n)
	for i, p := range predictions[:n] {
		results[i] = Result{
			Label:             p.Label,
			ConfidencePercent: roundTo(p.Confidence*100, 2),
		}
	}
	return results
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
