package diagnosis

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Brownie44l1/leaf-doctor/internal/model"
	"github.com/Brownie44l1/leaf-doctor/internal/treatment"
	"github.com/Brownie44l1/leaf-doctor/internal/upload"
)

type fakeClassifier struct {
	predictions []model.Prediction
	err         error
	calls       int
	gotPath     string
	hadDeadline bool
}

func (f *fakeClassifier) Classify(ctx context.Context, path string) ([]model.Prediction, error) {
	f.calls++
	f.gotPath = path
	_, f.hadDeadline = ctx.Deadline()
	return f.predictions, f.err
}

type fakeExplainer struct {
	text     string
	err      error
	calls    int
	gotLabel string
}

func (f *fakeExplainer) Explain(ctx context.Context, label string) (string, error) {
	f.calls++
	f.gotLabel = label
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

var testCatalog = treatment.New(map[string]treatment.Record{
	"Blight": {
		Chemical:   []string{"chlorothalonil"},
		Organic:    []string{"copper spray"},
		Prevention: []string{"rotate crops"},
	},
})

var leafImage = upload.StoredImage{
	Name: "leaf-1234abcd.jpg",
	Path: "/tmp/uploads/leaf-1234abcd.jpg",
	URL:  "/uploads/leaf-1234abcd.jpg",
}

func newService(cls Classifier, exp Explainer) *Service {
	return New(cls, exp, testCatalog, Options{
		ConfidenceThreshold: 0.15,
		MaxResults:          3,
		Logger:              slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
}

func TestDiagnose_FullResult(t *testing.T) {
	cls := &fakeClassifier{predictions: []model.Prediction{
		{Label: "Blight", Confidence: 0.42},
		{Label: "Healthy", Confidence: 0.30},
		{Label: "Rust", Confidence: 0.10},
		{Label: "Mildew", Confidence: 0.05},
	}}
	exp := &fakeExplainer{text: "Blight is a fungal disease."}

	resp := newService(cls, exp).Diagnose(context.Background(), leafImage)

	want := []Result{{"Blight", 42.0}, {"Healthy", 30.0}, {"Rust", 10.0}}
	if len(resp.Results) != len(want) {
		t.Fatalf("expected %d results, got %v", len(want), resp.Results)
	}
	for i := range want {
		if resp.Results[i] != want[i] {
			t.Fatalf("result %d = %+v, want %+v", i, resp.Results[i], want[i])
		}
	}
	if resp.Warning != "" {
		t.Fatalf("expected no warning, got %q", resp.Warning)
	}
	if resp.Error != "" {
		t.Fatalf("expected no error, got %q", resp.Error)
	}
	if resp.Explanation != "Blight is a fungal disease." {
		t.Fatalf("unexpected explanation %q", resp.Explanation)
	}
	if exp.gotLabel != "Blight" {
		t.Fatalf("explainer asked about %q, want Blight", exp.gotLabel)
	}
	if cls.gotPath != leafImage.Path {
		t.Fatalf("classifier got path %q", cls.gotPath)
	}
	if resp.ImageURL != leafImage.URL {
		t.Fatalf("unexpected image URL %q", resp.ImageURL)
	}
	if len(resp.Treatment.Chemical) != 1 || resp.Treatment.Chemical[0] != "chlorothalonil" {
		t.Fatalf("unexpected treatment %#v", resp.Treatment)
	}
}

func TestDiagnose_LowConfidenceWarning(t *testing.T) {
	cls := &fakeClassifier{predictions: []model.Prediction{{Label: "Rust", Confidence: 0.08}}}
	exp := &fakeExplainer{text: "Rust explanation"}

	resp := newService(cls, exp).Diagnose(context.Background(), leafImage)

	if len(resp.Results) != 1 || resp.Results[0] != (Result{"Rust", 8.0}) {
		t.Fatalf("unexpected results %v", resp.Results)
	}
	if resp.Warning != LowConfidenceWarning {
		t.Fatalf("expected low-confidence warning, got %q", resp.Warning)
	}
	if resp.Treatment.Chemical == nil || !resp.Treatment.IsEmpty() {
		t.Fatalf("expected fully-shaped empty treatment for unknown label, got %#v", resp.Treatment)
	}
}

func TestDiagnose_WarningBoundary(t *testing.T) {
	tests := []struct {
		confidence  float64
		wantWarning bool
	}{
		{0.15, false},
		{0.1499, true},
		{0.1501, false},
		{0, true},
		{1, false},
	}
	for _, tt := range tests {
		cls := &fakeClassifier{predictions: []model.Prediction{{Label: "Blight", Confidence: tt.confidence}}}
		resp := newService(cls, &fakeExplainer{text: "x"}).Diagnose(context.Background(), leafImage)

		if got := resp.Warning != ""; got != tt.wantWarning {
			t.Errorf("confidence %v: warning=%q, want warning=%v", tt.confidence, resp.Warning, tt.wantWarning)
		}
	}
}

func TestDiagnose_ClassifierFailureAborts(t *testing.T) {
	cls := &fakeClassifier{err: errors.New("corrupt image")}
	exp := &fakeExplainer{text: "unused"}

	var logs bytes.Buffer
	svc := New(cls, exp, testCatalog, Options{
		ConfidenceThreshold: 0.15,
		MaxResults:          3,
		Logger:              slog.New(slog.NewTextHandler(&logs, nil)),
	})
	resp := svc.Diagnose(context.Background(), leafImage)

	if resp.Error != ClassificationFailed {
		t.Fatalf("expected %q, got %q", ClassificationFailed, resp.Error)
	}
	if len(resp.Results) != 0 || resp.Explanation != "" || resp.Warning != "" || resp.ImageURL != "" {
		t.Fatalf("expected empty defaults, got %+v", resp)
	}
	if resp.Treatment.Chemical == nil || !resp.Treatment.IsEmpty() {
		t.Fatalf("expected fully-shaped empty treatment, got %#v", resp.Treatment)
	}
	if exp.calls != 0 {
		t.Fatalf("explainer must not be called after classifier failure, got %d calls", exp.calls)
	}
	if cls.calls != 1 {
		t.Fatalf("classifier should be attempted exactly once, got %d", cls.calls)
	}
	if !strings.Contains(logs.String(), "corrupt image") {
		t.Fatalf("original error should be logged, got %q", logs.String())
	}
}

func TestDiagnose_EmptyPredictionsTreatedAsFailure(t *testing.T) {
	cls := &fakeClassifier{predictions: []model.Prediction{}}
	exp := &fakeExplainer{text: "unused"}

	resp := newService(cls, exp).Diagnose(context.Background(), leafImage)

	if resp.Error != ClassificationFailed {
		t.Fatalf("expected classification failure, got %+v", resp)
	}
	if exp.calls != 0 {
		t.Fatal("explainer must not be called without a top label")
	}
}

func TestDiagnose_ExplainerFailureIsAbsorbed(t *testing.T) {
	cls := &fakeClassifier{predictions: []model.Prediction{
		{Label: "Blight", Confidence: 0.9},
		{Label: "Rust", Confidence: 0.1},
	}}
	exp := &fakeExplainer{err: errors.New("connection refused")}

	resp := newService(cls, exp).Diagnose(context.Background(), leafImage)

	if resp.Error != "" {
		t.Fatalf("explainer failure must not set an error, got %q", resp.Error)
	}
	if resp.Explanation != ExplanationFailed {
		t.Fatalf("expected fallback explanation, got %q", resp.Explanation)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected results to survive, got %v", resp.Results)
	}
	if resp.Treatment.IsEmpty() {
		t.Fatal("expected treatment lookup to still happen")
	}
	if exp.calls != 1 {
		t.Fatalf("explainer should be attempted exactly once, got %d", exp.calls)
	}
}

func TestDiagnose_AppliesClassifyTimeout(t *testing.T) {
	cls := &fakeClassifier{predictions: []model.Prediction{{Label: "Blight", Confidence: 0.5}}}
	svc := New(cls, &fakeExplainer{text: "x"}, testCatalog, Options{
		ConfidenceThreshold: 0.15,
		ClassifyTimeout:     time.Minute,
		Logger:              slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	svc.Diagnose(context.Background(), leafImage)
	if !cls.hadDeadline {
		t.Fatal("expected classifier context to carry a deadline")
	}
}

func TestDiagnose_ExplainTimeoutExpires(t *testing.T) {
	cls := &fakeClassifier{predictions: []model.Prediction{{Label: "Blight", Confidence: 0.5}}}
	exp := blockingExplainer{}
	svc := New(cls, exp, testCatalog, Options{
		ConfidenceThreshold: 0.15,
		ExplainTimeout:      20 * time.Millisecond,
		Logger:              slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	resp := svc.Diagnose(context.Background(), leafImage)
	if resp.Explanation != ExplanationFailed {
		t.Fatalf("expected fallback after timeout, got %q", resp.Explanation)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected results despite timeout, got %v", resp.Results)
	}
}

type blockingExplainer struct{}

func (blockingExplainer) Explain(ctx context.Context, label string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestNew_DefaultMaxResults(t *testing.T) {
	preds := make([]model.Prediction, 5)
	for i := range preds {
		preds[i] = model.Prediction{Label: string(rune('a' + i)), Confidence: 0.9 - float64(i)*0.1}
	}
	svc := New(&fakeClassifier{predictions: preds}, &fakeExplainer{text: "x"}, testCatalog, Options{
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})

	resp := svc.Diagnose(context.Background(), leafImage)
	if len(resp.Results) != DefaultMaxResults {
		t.Fatalf("expected %d results, got %d", DefaultMaxResults, len(resp.Results))
	}
}

func TestRank(t *testing.T) {
	preds := []model.Prediction{
		{Label: "a", Confidence: 0.98761},
		{Label: "b", Confidence: 0.012345},
		{Label: "c", Confidence: 0.0001},
		{Label: "d", Confidence: 0},
	}

	for l := 0; l <= len(preds); l++ {
		got := Rank(preds[:l], 3)
		if want := min(l, 3); len(got) != want {
			t.Fatalf("len %d: expected %d results, got %d", l, want, len(got))
		}
	}

	got := Rank(preds, 3)
	want := []Result{{"a", 98.76}, {"b", 1.23}, {"c", 0.01}}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if got := Rank(preds, 0); len(got) != 0 {
		t.Fatalf("expected no results for max 0, got %v", got)
	}
	if got := Rank(nil, 3); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestFailed(t *testing.T) {
	resp := Failed(ProcessingFailed)
	if resp.Error != ProcessingFailed {
		t.Fatalf("unexpected error %q", resp.Error)
	}
	if resp.Results == nil || resp.Treatment.Organic == nil {
		t.Fatalf("expected fully-shaped empty response, got %#v", resp)
	}
}
