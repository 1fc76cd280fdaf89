// Package archive talks to a TAP service (the Gaia archive) through its
// asynchronous job interface: submit an ADQL query, poll the job phase until
// it finishes, then download the whole result as CSV.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/franz/starcat/internal/util"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Gaia archive TAP endpoint
	DefaultBaseURL = "https://gea.esac.esa.int/tap-server/tap"

	// DefaultTable is the Gaia DR3 source table
	DefaultTable = "gaiadr3.gaia_source"

	// UserAgent identifies this application to the archive
	UserAgent = "starcat/1.0 (https://github.com/franz/starcat)"
)

// Job phases reported by the service
const (
	PhasePending   = "PENDING"
	PhaseQueued    = "QUEUED"
	PhaseExecuting = "EXECUTING"
	PhaseCompleted = "COMPLETED"
	PhaseError     = "ERROR"
	PhaseAborted   = "ABORTED"
)

// ErrJobFailed is returned when the service reports ERROR or ABORTED
var ErrJobFailed = errors.New("archive job failed")

// Config holds client configuration
type Config struct {
	BaseURL      string
	Table        string
	PollInterval time.Duration // Delay between phase polls (default 2s)
	Timeout      time.Duration // Overall deadline for one Fetch (default 30m)
	HTTPClient   *http.Client
	Retry        *util.RetryConfig
}

// Client handles archive requests
type Client struct {
	httpClient *http.Client
	baseURL    string
	table      string
	timeout    time.Duration
	poll       *rate.Limiter
	retry      *util.RetryConfig
}

// Job is a submitted query
type Job struct {
	URL string
}

// NewClient creates a new archive client
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	retry := cfg.Retry
	if retry == nil {
		retry = util.ArchiveRetryConfig()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	// The 303 after submission carries the job URL; follow it ourselves
	client := *httpClient
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		httpClient: &client,
		baseURL:    baseURL,
		table:      table,
		timeout:    timeout,
		poll:       rate.NewLimiter(rate.Every(pollInterval), 1),
		retry:      retry,
	}
}

// BrightStarQuery builds the ADQL for all sources brighter than magLimit
func (c *Client) BrightStarQuery(magLimit float64) string {
	return fmt.Sprintf(`SELECT
    source_id,
    ra, dec,
    parallax, parallax_error,
    pmra, pmdec,
    phot_g_mean_mag,
    phot_bp_mean_mag,
    phot_rp_mean_mag,
    bp_rp,
    radial_velocity,
    teff_gspphot AS temperature
FROM %s
WHERE phot_g_mean_mag < %g
ORDER BY phot_g_mean_mag ASC`, c.table, magLimit)
}

// Fetch runs the bright-star query to completion and returns every row
func (c *Client) Fetch(ctx context.Context, magLimit float64) ([]map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	util.InfoLog("Submitting archive query (mag < %s)", util.FormatMagnitude(magLimit))
	job, err := c.Submit(ctx, c.BrightStarQuery(magLimit))
	if err != nil {
		return nil, err
	}
	util.DebugLog("Archive job: %s", job.URL)

	if err := c.Wait(ctx, job); err != nil {
		return nil, err
	}

	return c.Results(ctx, job)
}

// Submit creates and starts an asynchronous job
func (c *Client) Submit(ctx context.Context, adql string) (*Job, error) {
	form := url.Values{
		"REQUEST": {"doQuery"},
		"LANG":    {"ADQL"},
		"FORMAT":  {"csv"},
		"PHASE":   {"RUN"},
		"QUERY":   {adql},
	}

	return util.RetryWithBackoff(ctx, c.retry, func() (*Job, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/async", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to submit job: %w", err)
		}
		defer drain(resp)

		switch resp.StatusCode {
		case http.StatusSeeOther, http.StatusFound, http.StatusCreated, http.StatusOK:
		default:
			return nil, statusError(resp)
		}

		loc := resp.Header.Get("Location")
		if loc == "" {
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("job submission returned %d without a Location", resp.StatusCode)
			}
			loc = resp.Request.URL.String()
		}

		jobURL, err := resp.Request.URL.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid job location %q: %w", loc, err)
		}
		return &Job{URL: strings.TrimRight(jobURL.String(), "/")}, nil
	}, "archive submit")
}

// Wait polls the job phase until it completes, fails or ctx ends
func (c *Client) Wait(ctx context.Context, job *Job) error {
	start := time.Now()
	last := ""

	for {
		if err := c.poll.Wait(ctx); err != nil {
			// The limiter refuses early when the next slot is past the deadline
			if ctx.Err() == nil {
				err = context.DeadlineExceeded
			} else {
				err = ctx.Err()
			}
			return fmt.Errorf("waiting for archive job: %w", err)
		}

		phase, err := c.Phase(ctx, job)
		if err != nil {
			return err
		}

		if phase != last {
			util.DebugLog("Archive job phase: %s (%v elapsed)", phase, time.Since(start).Round(time.Second))
			last = phase
		}

		switch phase {
		case PhaseCompleted:
			util.InfoLog("Archive job completed in %v", time.Since(start).Round(time.Second))
			return nil
		case PhaseError, PhaseAborted:
			summary := c.errorSummary(ctx, job)
			if summary != "" {
				return fmt.Errorf("%w: phase %s: %s", ErrJobFailed, phase, summary)
			}
			return fmt.Errorf("%w: phase %s", ErrJobFailed, phase)
		}
	}
}

// Phase returns the current job phase
func (c *Client) Phase(ctx context.Context, job *Job) (string, error) {
	body, err := c.get(ctx, job.URL+"/phase", "archive phase")
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(string(body))), nil
}

// Results downloads the job result and parses it as CSV
func (c *Client) Results(ctx context.Context, job *Job) ([]map[string]string, error) {
	body, err := c.get(ctx, job.URL+"/results/result", "archive results")
	if err != nil {
		return nil, err
	}

	rows, err := ParseCSV(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse archive results: %w", err)
	}
	util.InfoLog("Retrieved %s rows from archive", util.FormatCount(int64(len(rows))))
	return rows, nil
}

// errorSummary fetches the job's error document; failures are ignored
func (c *Client) errorSummary(ctx context.Context, job *Job) string {
	body, err := c.get(ctx, job.URL+"/error", "archive error summary")
	if err != nil {
		return ""
	}
	return summarize(body)
}

func (c *Client) get(ctx context.Context, u, name string) ([]byte, error) {
	return util.RetryWithBackoff(ctx, c.retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}
		defer drain(resp)

		if resp.StatusCode != http.StatusOK {
			return nil, statusError(resp)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return body, nil
	}, name)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &util.HTTPStatusError{StatusCode: resp.StatusCode, Body: summarize(body)}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}
