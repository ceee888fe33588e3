package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rt-heroku/contract-analysis-sub001/config"
	"github.com/rt-heroku/contract-analysis-sub001/model"
	"github.com/rt-heroku/contract-analysis-sub001/pkg/apperr"
)

// ProcessorService calls the external extraction and analysis API. Both
// calls are synchronous and slow; each is bounded by a fixed timeout. The
// adapter never retries — retry policy belongs to the analysis service,
// because re-running an extraction is a paid operation.
type ProcessorService struct {
	config     *config.ProcessorConfig
	httpClient *http.Client
}

func NewProcessorService(cfg *config.ProcessorConfig) *ProcessorService {
	return &ProcessorService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// ExtractRequest is the payload for the extraction stage. The document URL
// is a presigned blob-store link the remote service downloads from.
type ExtractRequest struct {
	DocumentURL  string `json:"document_url"`
	DocumentName string `json:"document_name"`
}

// AnalyzeRequest is the payload for the analysis stage.
type AnalyzeRequest struct {
	DocumentName string   `json:"document_name"`
	Terms        []string `json:"terms"`
	Products     []string `json:"products"`
	DataURL      string   `json:"data_url"`
}

// stringList decodes the upstream's list variants: a plain string array,
// or an object array carrying "text" or "name" fields. Anything else
// degrades to an empty list rather than failing the decode.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var plain []string
	if err := json.Unmarshal(data, &plain); err == nil {
		*l = plain
		return nil
	}

	var tagged []struct {
		Text string `json:"text"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &tagged); err == nil {
		out := make([]string, 0, len(tagged))
		for _, item := range tagged {
			switch {
			case item.Text != "":
				out = append(out, item.Text)
			case item.Name != "":
				out = append(out, item.Name)
			}
		}
		*l = out
		return nil
	}

	// Unrecognized shape: keep the contract total.
	*l = nil
	return nil
}

// extractEnvelope covers the known extraction response shapes, including
// responses that nest the payload under "data".
type extractEnvelope struct {
	DocumentName string          `json:"document_name"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	State        string          `json:"state"`
	Terms        stringList      `json:"terms"`
	Products     stringList      `json:"products"`
	Data         json.RawMessage `json:"data"`
}

// analyzeEnvelope covers the known analysis response shapes.
type analyzeEnvelope struct {
	Summary        string          `json:"summary"`
	MarkdownReport string          `json:"markdown_report"`
	ReportMarkdown string          `json:"report_markdown"`
	Report         string          `json:"report"`
	Data           json.RawMessage `json:"data"`
}

// Extract submits the contract document for structured extraction.
func (s *ProcessorService) Extract(ctx context.Context, docURL, docName string) (*model.ExtractionResult, error) {
	body, err := s.post(ctx, "/v1/extract", ExtractRequest{
		DocumentURL:  docURL,
		DocumentName: docName,
	})
	if err != nil {
		return nil, err
	}
	return normalizeExtraction(body, docName), nil
}

// Analyze submits the extraction output plus the data file for the second
// stage.
func (s *ProcessorService) Analyze(ctx context.Context, extraction *model.ExtractionResult, dataURL string) (*model.AnalysisResult, error) {
	body, err := s.post(ctx, "/v1/analyze", AnalyzeRequest{
		DocumentName: extraction.DocumentName,
		Terms:        extraction.Terms,
		Products:     extraction.Products,
		DataURL:      dataURL,
	})
	if err != nil {
		return nil, err
	}
	return normalizeAnalysis(body), nil
}

// post sends a JSON request and classifies transport and status failures
// into the upstream error taxonomy.
func (s *ProcessorService) post(ctx context.Context, path string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperr.Wrap(apperr.KindUpstreamTimeout, "processing service timed out", err)
		}
		return nil, apperr.Wrap(apperr.KindUpstreamUnavail, "processing service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavail, "failed to read processing response", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, apperr.Wrap(apperr.KindUpstreamUnavail,
			"processing service unavailable",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 512)))
	case resp.StatusCode >= 400:
		return nil, apperr.Wrap(apperr.KindUpstreamRejected,
			"processing service rejected the request",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 512)))
	}

	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// normalizeExtraction maps any known response shape onto the fixed
// ExtractionResult contract. Unknown or missing fields degrade to empty
// collections; the raw body is preserved for diagnostics.
func normalizeExtraction(body []byte, fallbackName string) *model.ExtractionResult {
	var env extractEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		// Nested payload wins when present.
		var inner extractEnvelope
		if err := json.Unmarshal(env.Data, &inner); err == nil {
			inner.Data = nil
			env = inner
		}
	}

	name := env.DocumentName
	if name == "" {
		name = env.Name
	}
	if name == "" {
		name = fallbackName
	}

	status := env.Status
	if status == "" {
		status = env.State
	}
	if status == "" {
		status = "done"
	}

	result := &model.ExtractionResult{
		DocumentName: name,
		Status:       status,
		Terms:        env.Terms,
		Products:     env.Products,
		Raw:          json.RawMessage(body),
	}
	if result.Terms == nil {
		result.Terms = []string{}
	}
	if result.Products == nil {
		result.Products = []string{}
	}
	return result
}

// normalizeAnalysis maps any known response shape onto AnalysisResult.
func normalizeAnalysis(body []byte) *model.AnalysisResult {
	var env analyzeEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		var inner analyzeEnvelope
		if err := json.Unmarshal(env.Data, &inner); err == nil {
			inner.Data = nil
			env = inner
		}
	}

	report := env.MarkdownReport
	if report == "" {
		report = env.ReportMarkdown
	}
	if report == "" {
		report = env.Report
	}

	return &model.AnalysisResult{
		Summary:        env.Summary,
		MarkdownReport: report,
	}
}
