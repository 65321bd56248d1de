package learner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// #region client-struct
// HTTPLearner talks JSON over HTTP to the model process. One instance per
// run; safe for the single orchestrator loop, not hardened for concurrent
// callers.
type HTTPLearner struct {
	baseURL string
	http    *http.Client
}
// #endregion client-struct

// #region constructor
// NewHTTPLearner creates a client for the learner service at baseURL.
func NewHTTPLearner(baseURL string) *HTTPLearner {
	return &HTTPLearner{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}
// #endregion constructor

// #region train
// TrainStep runs one learning step on the model process.
func (l *HTTPLearner) TrainStep(ctx context.Context, req TrainRequest) (TrainResult, error) {
	var res TrainResult
	if err := l.post(ctx, "/train", req, &res); err != nil {
		return TrainResult{}, err
	}
	if len(res.TDErrors) != len(req.Batch) {
		return TrainResult{}, fmt.Errorf("train: got %d td-errors for batch of %d", len(res.TDErrors), len(req.Batch))
	}
	return res, nil
}
// #endregion train

// #region act

type actRequest struct {
	State   []float64 `json:"state"`
	Epsilon float64   `json:"epsilon,omitempty"`
}

type actResponse struct {
	Action int `json:"action"`
}

// ActGreedy asks for the argmax action, no exploration.
func (l *HTTPLearner) ActGreedy(ctx context.Context, state []float64) (int, error) {
	var res actResponse
	if err := l.post(ctx, "/act/greedy", actRequest{State: state}, &res); err != nil {
		return 0, err
	}
	return res.Action, nil
}

// ActExplore asks for an epsilon-greedy action.
func (l *HTTPLearner) ActExplore(ctx context.Context, state []float64, epsilon float64) (int, error) {
	var res actResponse
	if err := l.post(ctx, "/act/explore", actRequest{State: state, Epsilon: epsilon}, &res); err != nil {
		return 0, err
	}
	return res.Action, nil
}

// #endregion act

// #region state

type stateEnvelope struct {
	Agent json.RawMessage `json:"agent"`
}

// ExportState pulls the learner's opaque serialized weights.
func (l *HTTPLearner) ExportState(ctx context.Context) (json.RawMessage, error) {
	var res stateEnvelope
	if err := l.get(ctx, "/state", &res); err != nil {
		return nil, err
	}
	return res.Agent, nil
}

// ImportState pushes previously exported weights back into the learner.
func (l *HTTPLearner) ImportState(ctx context.Context, blob json.RawMessage) error {
	return l.post(ctx, "/state", stateEnvelope{Agent: blob}, nil)
}

// #endregion state

// #region transport

func (l *HTTPLearner) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return l.do(req, path, out)
}

func (l *HTTPLearner) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	return l.do(req, path, out)
}

func (l *HTTPLearner) do(req *http.Request, path string, out interface{}) error {
	resp, err := l.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// #endregion transport

var _ Learner = (*HTTPLearner)(nil)
