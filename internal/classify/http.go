package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// HTTPClassifier posts a preprocessed tensor to a TensorFlow-Serving style
// REST endpoint and maps the arg-max of the returned scores to a class name.
type HTTPClassifier struct {
	URL        string
	InputSize  int
	ClassNames []string
	Client     *http.Client
}

// NewHTTPClassifier returns a classifier for the model server at url.
func NewHTTPClassifier(url string, inputSize int, classNames []string, timeout time.Duration) *HTTPClassifier {
	if len(classNames) == 0 {
		classNames = DefaultClassNames
	}
	return &HTTPClassifier{
		URL:        url,
		InputSize:  inputSize,
		ClassNames: classNames,
		Client:     &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Instances [][][][3]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error"`
}

// Classify implements Classifier.
func (h *HTTPClassifier) Classify(ctx context.Context, image []byte) (Result, error) {
	tensor, err := Preprocess(image, h.InputSize)
	if err != nil {
		return Result{}, err
	}
	body, err := json.Marshal(predictRequest{Instances: [][][][3]float32{tensor}})
	if err != nil {
		return Result{}, fmt.Errorf("classify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("classify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("classify: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("classify: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("classify: model server returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var pr predictResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return Result{}, fmt.Errorf("classify: decode response: %w", err)
	}
	if pr.Error != "" {
		return Result{}, fmt.Errorf("classify: model server: %s", pr.Error)
	}
	if len(pr.Predictions) == 0 || len(pr.Predictions[0]) == 0 {
		return Result{}, fmt.Errorf("classify: empty predictions")
	}

	idx, conf := argmax(softmax(pr.Predictions[0]))
	return Result{Label: h.className(idx), Confidence: conf}, nil
}

func (h *HTTPClassifier) className(idx int) string {
	if idx < len(h.ClassNames) {
		return h.ClassNames[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

// softmax normalises raw scores into probabilities. Scores that already sum
// to one come back unchanged up to rounding.
func softmax(scores []float64) []float64 {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - maxScore)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(probs []float64) (int, float64) {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best, probs[best]
}
