package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
)

// jsonClient posts JSON to one backend and decodes a JSON answer.
type jsonClient struct {
	baseURL string
	client  *http.Client
}

func newJSONClient(baseURL string, timeout time.Duration) jsonClient {
	return jsonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: utils.NewHTTPClient(
			utils.WithClientTimeout(timeout),
			utils.WithResponseHeaderTimeout(timeout),
		),
	}
}

func (c jsonClient) post(ctx context.Context, path, traceID string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID != "" {
		req.Header.Set(pkg.HeaderTraceId, traceID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: unexpected status %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("POST %s: decode: %w", path, err)
	}
	return nil
}

// HTTPEvidenceAnalyzer calls the vision service that inspects POD images.
type HTTPEvidenceAnalyzer struct {
	c jsonClient
}

func NewHTTPEvidenceAnalyzer(baseURL string, timeout time.Duration) *HTTPEvidenceAnalyzer {
	return &HTTPEvidenceAnalyzer{c: newJSONClient(baseURL, timeout)}
}

func (a *HTTPEvidenceAnalyzer) Analyze(ctx context.Context, evidenceRef, trackingNumber string, expected *time.Time) (EvidenceReport, error) {
	in := struct {
		EvidenceRef    string     `json:"evidenceRef"`
		TrackingNumber string     `json:"trackingNumber,omitempty"`
		ExpectedDate   *time.Time `json:"expectedDate,omitempty"`
	}{evidenceRef, trackingNumber, expected}

	var out EvidenceReport
	if err := a.c.post(ctx, "/v1/evidence/analyze", "", in, &out); err != nil {
		return EvidenceReport{}, fmt.Errorf("evidence: %w", err)
	}
	return out, nil
}

// HTTPPODFetcher retrieves carrier-held proof of delivery.
type HTTPPODFetcher struct {
	c jsonClient
}

func NewHTTPPODFetcher(baseURL string, timeout time.Duration) *HTTPPODFetcher {
	return &HTTPPODFetcher{c: newJSONClient(baseURL, timeout)}
}

func (f *HTTPPODFetcher) FetchPOD(ctx context.Context, carrier, trackingNumber string) (PODResult, error) {
	in := map[string]string{"carrier": carrier, "trackingNumber": trackingNumber}
	var out PODResult
	if err := f.c.post(ctx, "/v1/pod/fetch", "", in, &out); err != nil {
		return PODResult{}, fmt.Errorf("pod: %w", err)
	}
	if out.URL == "" {
		return PODResult{}, fmt.Errorf("pod: carrier returned no document for %s", trackingNumber)
	}
	return out, nil
}

// HTTPCarrierAPI files claims through one carrier's claims API.
type HTTPCarrierAPI struct {
	c jsonClient
}

func NewHTTPCarrierAPI(baseURL string, timeout time.Duration) *HTTPCarrierAPI {
	return &HTTPCarrierAPI{c: newJSONClient(baseURL, timeout)}
}

func (a *HTTPCarrierAPI) SubmitAPI(ctx context.Context, req SubmissionRequest) (SubmissionOutcome, error) {
	var out SubmissionOutcome
	if err := a.c.post(ctx, "/v1/claims", req.ClaimReference, req, &out); err != nil {
		return SubmissionOutcome{}, err
	}
	return out, nil
}

// HTTPPortalAutomation drives carrier web portals through the browser automation service.
// One instance serves every carrier it is registered under.
type HTTPPortalAutomation struct {
	c jsonClient
}

func NewHTTPPortalAutomation(baseURL string, timeout time.Duration) *HTTPPortalAutomation {
	return &HTTPPortalAutomation{c: newJSONClient(baseURL, timeout)}
}

func (p *HTTPPortalAutomation) SubmitPortal(ctx context.Context, carrier string, req SubmissionRequest) (SubmissionOutcome, error) {
	in := struct {
		Carrier string `json:"carrier"`
		SubmissionRequest
	}{carrier, req}

	var out SubmissionOutcome
	if err := p.c.post(ctx, "/v1/portal/submissions", req.ClaimReference, in, &out); err != nil {
		return SubmissionOutcome{}, err
	}
	return out, nil
}
