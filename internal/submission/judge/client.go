package judge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "knightshade/pkg/errors"

	"github.com/hashicorp/go-retryablehttp"
)

// Client talks to the external code execution engine.
type Client interface {
	// Enqueue submits a run and returns the engine job token.
	Enqueue(ctx context.Context, req *EnqueueRequest) (string, error)

	// Fetch retrieves the current state of a run by its job token.
	Fetch(ctx context.Context, token string) (*Result, error)
}

// EnqueueRequest describes one run to enqueue. CPUTimeLimit is in seconds
// and MemoryLimit in KB; zero means the engine default applies.
type EnqueueRequest struct {
	SourceCode             string
	LanguageID             int
	Stdin                  string
	ExpectedOutput         string
	CPUTimeLimit           float64
	MemoryLimit            int
	RedirectStderrToStdout bool
}

// Result is the decoded state of a run as reported by the engine.
type Result struct {
	Token         string
	StatusID      int
	StatusDesc    string
	Stdout        string
	Stderr        string
	CompileOutput string
	Time          string
	Memory        float64
}

// Terminal reports whether the run has finished.
func (r *Result) Terminal() bool {
	return IsTerminal(r.StatusID)
}

// Config holds connection settings for the execution engine.
type Config struct {
	BaseURL   string        `yaml:"baseURL"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
	RetryMax  int           `yaml:"retryMax"`
}

// HTTPClient implements Client over the engine's REST API.
type HTTPClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPClient creates an engine client with retrying transport.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("engine baseURL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.Logger = nil

	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authToken: cfg.AuthToken,
		client:    retryClient.StandardClient(),
	}, nil
}

type enqueuePayload struct {
	SourceCode             string  `json:"source_code"`
	LanguageID             int     `json:"language_id"`
	Stdin                  string  `json:"stdin,omitempty"`
	ExpectedOutput         string  `json:"expected_output,omitempty"`
	CPUTimeLimit           float64 `json:"cpu_time_limit,omitempty"`
	MemoryLimit            int     `json:"memory_limit,omitempty"`
	RedirectStderrToStdout bool    `json:"redirect_stderr_to_stdout,omitempty"`
}

type enqueueResponse struct {
	Token string `json:"token"`
}

type statusPayload struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type fetchResponse struct {
	Stdout        *string       `json:"stdout"`
	Stderr        *string       `json:"stderr"`
	CompileOutput *string       `json:"compile_output"`
	Time          string        `json:"time"`
	Memory        float64       `json:"memory"`
	Status        statusPayload `json:"status"`
}

// Enqueue submits a run with wait=false so the engine returns immediately
// with a job token. Source, stdin and expected output travel base64 encoded.
func (c *HTTPClient) Enqueue(ctx context.Context, req *EnqueueRequest) (string, error) {
	if req == nil {
		return "", pkgerrors.New(pkgerrors.InvalidParams).WithMessage("enqueue request is nil")
	}

	payload := enqueuePayload{
		SourceCode:             base64.StdEncoding.EncodeToString([]byte(req.SourceCode)),
		LanguageID:             req.LanguageID,
		Stdin:                  base64.StdEncoding.EncodeToString([]byte(req.Stdin)),
		ExpectedOutput:         base64.StdEncoding.EncodeToString([]byte(req.ExpectedOutput)),
		CPUTimeLimit:           req.CPUTimeLimit,
		MemoryLimit:            req.MemoryLimit,
		RedirectStderrToStdout: req.RedirectStderrToStdout,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.InternalServerError)
	}

	endpoint := fmt.Sprintf("%s/submissions?base64_encoded=true&wait=false", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.InternalServerError)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuth(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", pkgerrors.UpstreamError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(pkgerrors.JudgeUnavailable).
			WithMessage(fmt.Sprintf("engine enqueue returned status %d", resp.StatusCode))
	}

	var out enqueueResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.JudgeResponseBroken)
	}
	if out.Token == "" {
		return "", pkgerrors.New(pkgerrors.JudgeTokenMissing)
	}
	return out.Token, nil
}

// Fetch retrieves the run state by token and decodes base64 output fields.
func (c *HTTPClient) Fetch(ctx context.Context, token string) (*Result, error) {
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("job token is required")
	}

	endpoint := fmt.Sprintf("%s/submissions/%s?base64_encoded=true&wait=false", c.baseURL, url.PathEscape(token))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.InternalServerError)
	}
	c.setAuth(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.UpstreamError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.New(pkgerrors.JudgeUnavailable).
			WithMessage(fmt.Sprintf("engine fetch returned status %d", resp.StatusCode))
	}

	var out fetchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.JudgeResponseBroken)
	}
	if out.Status.ID == 0 {
		return nil, pkgerrors.New(pkgerrors.JudgeResponseBroken).WithMessage("engine response has no status")
	}

	stdout, err := decodeField(out.Stdout)
	if err != nil {
		return nil, err
	}
	stderr, err := decodeField(out.Stderr)
	if err != nil {
		return nil, err
	}
	compileOutput, err := decodeField(out.CompileOutput)
	if err != nil {
		return nil, err
	}

	desc := out.Status.Description
	if desc == "" {
		desc = StatusDescription(out.Status.ID)
	}

	return &Result{
		Token:         token,
		StatusID:      out.Status.ID,
		StatusDesc:    desc,
		Stdout:        stdout,
		Stderr:        stderr,
		CompileOutput: compileOutput,
		Time:          out.Time,
		Memory:        out.Memory,
	}, nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
	}
}

// decodeField decodes a base64 payload field. The engine sends null for
// absent fields and occasionally inserts newlines into long values.
func decodeField(value *string) (string, error) {
	if value == nil || *value == "" {
		return "", nil
	}
	cleaned := strings.ReplaceAll(*value, "\n", "")
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.JudgeResponseBroken)
	}
	return string(decoded), nil
}
