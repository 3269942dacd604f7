package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/MikeL71221ibpm/iBPM-sub011/src/jobs"
)

// uploadTimeout is the transport ceiling for bulk note uploads. It is
// deliberately generous and unrelated to the advisory processing estimate.
const uploadTimeout = 2 * time.Hour

// StartRequest is the body of POST /api/jobs/:jobType/start.
type StartRequest struct {
	Source      string `json:"source"`
	CSVFilePath string `json:"csvFilePath,omitempty"`
}

// StartResponse acknowledges a job start.
type StartResponse struct {
	Message string `json:"message"`
}

// UploadResult is the server's reply to POST /api/uploads.
type UploadResult struct {
	Success                    bool   `json:"success"`
	FilePath                   string `json:"filePath,omitempty"`
	Error                      string `json:"error,omitempty"`
	EstimatedProcessingSeconds int    `json:"estimatedProcessingSeconds,omitempty"`
}

// API is the HTTP client for the job server.
type API struct {
	baseURL      string
	ownerID      string
	httpClient   *http.Client
	uploadClient *http.Client
}

func NewAPI(baseURL, ownerID string) *API {
	return &API{
		baseURL:      baseURL,
		ownerID:      ownerID,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		uploadClient: &http.Client{Timeout: uploadTimeout},
	}
}

// StartJob creates or replaces the job for the given type.
func (a *API) StartJob(ctx context.Context, jobType jobs.Type, req StartRequest) (*StartResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal start request: %w", err)
	}

	u := fmt.Sprintf("%s/api/jobs/%s/start?ownerId=%s", a.baseURL, jobType, url.QueryEscape(a.ownerID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("start request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var out StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode start response: %w", err)
	}
	return &out, nil
}

// Status fetches a point-in-time snapshot of the job, or nil when no job
// has ever run for the type. Safe to call on an interval.
func (a *API) Status(ctx context.Context, jobType jobs.Type) (*jobs.Snapshot, error) {
	u := fmt.Sprintf("%s/api/jobs/%s/status?ownerId=%s", a.baseURL, jobType, url.QueryEscape(a.ownerID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var snap jobs.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &snap, nil
}

// Upload streams a file to the server as multipart form data. onProgress,
// if non-nil, observes byte-level upload progress.
func (a *API) Upload(ctx context.Context, filePath string, onProgress func(uploaded, total int64)) (*UploadResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := io.Reader(f)
		if onProgress != nil {
			src = &progressReader{r: f, total: info.Size(), report: onProgress}
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	u := fmt.Sprintf("%s/api/uploads?ownerId=%s", a.baseURL, url.QueryEscape(a.ownerID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.uploadClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if !out.Success && out.Error != "" {
		return &out, fmt.Errorf("upload rejected: %s", out.Error)
	}
	return &out, nil
}

type progressReader struct {
	r        io.Reader
	total    int64
	uploaded int64
	report   func(uploaded, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.uploaded += int64(n)
		p.report(p.uploaded, p.total)
	}
	return n, err
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeAPIError(resp *http.Response) error {
	var e apiError
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("%s: %s", e.Code, e.Message)
}
