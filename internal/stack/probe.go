package stack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/kubesmoke/kubesmoke/pkg/poll"
)

// Probe verifies a deployed stack through its forwarded address. A nil
// return means Verified; a *VerifyError carries the failure class.
type Probe interface {
	Verify(ctx context.Context, baseURL string) error
}

// ProbeFor returns the probe strategy for a stack's declared kind.
func ProbeFor(spec Spec) (Probe, error) {
	switch spec.Kind {
	case KindPage:
		return &pageProbe{spec: spec.Probe}, nil
	case KindJSONList:
		return &jsonListProbe{spec: spec.Probe}, nil
	case KindAsyncJob:
		return &asyncJobProbe{spec: spec.Probe}, nil
	}
	return nil, fmt.Errorf("no probe strategy for stack kind %q", spec.Kind)
}

// newProbeClient builds the HTTP client probes share. A few bounded
// retries absorb the window where the port-forward tunnel is accepting
// connections but the backend socket is not wired through yet.
func newProbeClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 15 * time.Second
	c.Logger = nil
	return c
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	return string(body)
}

// pageProbe fetches a page and requires an expected fragment in the body.
type pageProbe struct {
	spec ProbeSpec
}

func (p *pageProbe) Verify(ctx context.Context, baseURL string) error {
	client := newProbeClient()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, baseURL+p.spec.Path, nil)
	if err != nil {
		return &VerifyError{Outcome: OutcomeVerificationFailed, Detail: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &VerifyError{Outcome: OutcomeVerificationFailed, Detail: fmt.Sprintf("page not reachable: %v", err)}
	}

	body := readBody(resp)
	if !strings.Contains(body, p.spec.Fragment) {
		return &VerifyError{
			Outcome: OutcomeVerificationFailed,
			Detail:  fmt.Sprintf("expected fragment %q not found in page", p.spec.Fragment),
			Body:    body,
		}
	}
	return nil
}

// jsonListProbe fetches an API endpoint and requires the body to be a
// JSON list. An empty list is valid; "null" or an object is not.
type jsonListProbe struct {
	spec ProbeSpec
}

func (p *jsonListProbe) Verify(ctx context.Context, baseURL string) error {
	client := newProbeClient()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, baseURL+p.spec.Path, nil)
	if err != nil {
		return &VerifyError{Outcome: OutcomeVerificationFailed, Detail: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &VerifyError{Outcome: OutcomeVerificationFailed, Detail: fmt.Sprintf("API not reachable: %v", err)}
	}

	body := readBody(resp)
	if !strings.HasPrefix(strings.TrimSpace(body), "[") {
		return &VerifyError{
			Outcome: OutcomeVerificationFailed,
			Detail:  "response is not a JSON list",
			Body:    body,
		}
	}
	return nil
}

// asyncJobProbe drives a submit-then-poll generation API: POST a multipart
// job, require a job identifier, then poll the status endpoint until its
// Content-Type indicates a completed binary artifact.
type asyncJobProbe struct {
	spec ProbeSpec

	// pollInterval is overridable in tests.
	pollInterval time.Duration
}

func (p *asyncJobProbe) Verify(ctx context.Context, baseURL string) error {
	client := newProbeClient()

	jobID, err := p.submit(ctx, client, baseURL)
	if err != nil {
		return err
	}

	interval := p.pollInterval
	if interval == 0 {
		interval = 2 * time.Second
	}

	statusURL := baseURL + p.spec.StatusPath + "/" + jobID
	var failure *VerifyError
	done := poll.Await(ctx, p.spec.Timeout.Std(), interval, func() bool {
		finished, verr := p.checkStatus(ctx, client, statusURL)
		if verr != nil {
			failure = verr
			return true
		}
		return finished
	})

	if failure != nil {
		return failure
	}
	if !done {
		return &VerifyError{
			Outcome: OutcomeRolloutTimeout,
			Detail:  fmt.Sprintf("job %s did not produce a %s artifact within %s", jobID, p.spec.ContentType, p.spec.Timeout),
		}
	}
	return nil
}

// submit posts the multipart job and extracts the job identifier. A
// response without an identifier is a missing precondition: there is
// nothing to poll, reported distinctly from a polling timeout.
func (p *asyncJobProbe) submit(ctx context.Context, client *retryablehttp.Client, baseURL string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(p.spec.FileField, "probe-input.txt")
	if err != nil {
		return "", &VerifyError{Outcome: OutcomeVerificationFailed, Detail: err.Error()}
	}
	if _, err := part.Write([]byte(p.spec.FileContent)); err != nil {
		return "", &VerifyError{Outcome: OutcomeVerificationFailed, Detail: err.Error()}
	}
	for field, value := range p.spec.Form {
		if err := writer.WriteField(field, value); err != nil {
			return "", &VerifyError{Outcome: OutcomeVerificationFailed, Detail: err.Error()}
		}
	}
	if err := writer.Close(); err != nil {
		return "", &VerifyError{Outcome: OutcomeVerificationFailed, Detail: err.Error()}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, baseURL+p.spec.SubmitPath, buf.Bytes())
	if err != nil {
		return "", &VerifyError{Outcome: OutcomeVerificationFailed, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", &VerifyError{Outcome: OutcomeVerificationFailed, Detail: fmt.Sprintf("submit failed: %v", err)}
	}
	body := readBody(resp)

	var payload struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", &VerifyError{Outcome: OutcomeVerificationFailed, Detail: "submit response is not valid JSON", Body: body}
	}
	if payload.ID == nil || *payload.ID == "" {
		return "", &VerifyError{Outcome: OutcomePrereqFailed, Detail: "submit response carried no job identifier", Body: body}
	}
	return *payload.ID, nil
}

// checkStatus returns finished=true when the artifact is ready, or a
// *VerifyError when the job reported a hard failure. A JSON status body
// means "still processing" unless it says status=error.
func (p *asyncJobProbe) checkStatus(ctx context.Context, client *retryablehttp.Client, statusURL string) (bool, *VerifyError) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return false, &VerifyError{Outcome: OutcomeVerificationFailed, Detail: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		// Transient; keep polling until the deadline.
		return false, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, p.spec.ContentType) {
		resp.Body.Close()
		return true, nil
	}

	body := readBody(resp)
	var status struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &status); err == nil && status.Status == "error" {
		return false, &VerifyError{
			Outcome: OutcomeVerificationFailed,
			Detail:  fmt.Sprintf("job failed: %s", status.Message),
			Body:    body,
		}
	}
	return false, nil
}
