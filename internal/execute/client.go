package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIURL points at the public piston execute endpoint the
// product uses when no private deployment is configured.
const DefaultAPIURL = "https://emkc.org/api/v2/piston/execute"

// Request is what the editor posts to run the current document.
type Request struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Code     string `json:"code"`
}

// Result mirrors the shape the browser consumes: any combination of
// compile and run output, or a top-level service error. All fields
// absent means the run succeeded with no output.
type Result struct {
	Stdout        string `json:"stdout,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
	RunCode       *int   `json:"runCode,omitempty"`
	CompileStdout string `json:"compileStdout,omitempty"`
	CompileStderr string `json:"compileStderr,omitempty"`
	CompileCode   *int   `json:"compileCode,omitempty"`
	Error         string `json:"error,omitempty"`
}

type pistonFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
}

type pistonPhase struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   *int   `json:"code"`
}

type pistonResponse struct {
	Run     *pistonPhase `json:"run"`
	Compile *pistonPhase `json:"compile"`
}

// Client proxies execution requests to a piston-compatible API. It is
// a plain request/response collaborator; nothing it returns ever
// touches session state.
type Client struct {
	apiURL string
	http   *http.Client
}

func NewClient(apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		apiURL: apiURL,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Run executes the given code remotely. Upstream HTTP failures come
// back inside Result.Error so callers can surface them verbatim; a
// non-nil error means the call itself could not be made.
func (c *Client) Run(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(pistonRequest{
		Language: strings.TrimSpace(req.Language),
		Version:  strings.TrimSpace(req.Version),
		Files: []pistonFile{
			{Name: "main." + FileExtension(req.Language), Content: req.Code},
		},
	})
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("call execute API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Result{Error: fmt.Sprintf("execute API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))}, nil
	}

	var parsed pistonResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode execute API response: %w", err)
	}

	var out Result
	if parsed.Run != nil {
		out.Stdout = parsed.Run.Stdout
		out.Stderr = parsed.Run.Stderr
		out.RunCode = parsed.Run.Code
	}
	if parsed.Compile != nil {
		out.CompileStdout = parsed.Compile.Stdout
		out.CompileStderr = parsed.Compile.Stderr
		out.CompileCode = parsed.Compile.Code
	}
	return out, nil
}

// FileExtension maps an editor language to the source file extension
// the execute API expects.
func FileExtension(language string) string {
	switch strings.ToLower(language) {
	case "javascript":
		return "js"
	case "typescript":
		return "ts"
	case "java":
		return "java"
	case "python":
		return "py"
	case "cpp", "c++":
		return "cpp"
	case "c":
		return "c"
	case "sql":
		return "sql"
	default:
		return "txt"
	}
}
