// Package backend is the REST client for the orchestrator backend. Every
// failure is reported as an *Error carrying its Kind.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/opconsole/internal/model"
)

const maxErrorBody = 4 << 10

// Options tunes a Client.
type Options struct {
	// Token is sent as a bearer token when non-empty.
	Token string
	// Timeout bounds each request. Zero means no client-side limit.
	Timeout time.Duration
	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to the orchestrator backend over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	reads      singleflight.Group
}

// New creates a Client targeting baseURL.
func New(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      opts.Token,
		httpClient: hc,
	}
}

// BaseURL returns the backend address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	op := opName(method, path)

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling %s request: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{Kind: KindServer, Op: op, Status: resp.StatusCode, Err: errors.New(text)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: fmt.Errorf("reading body: %w", err)}
	}
	return data, nil
}

// get de-duplicates concurrent reads of the same path, so views polling the
// same collection share one request. The shared request is detached from the
// caller that started it; each caller stops waiting when its own ctx ends,
// and the client timeout bounds the request itself.
func (c *Client) get(ctx context.Context, path string, v any) error {
	op := "GET " + path
	ch := c.reads.DoChan(path, func() (any, error) {
		return c.do(context.WithoutCancel(ctx), http.MethodGet, path, nil)
	})
	select {
	case <-ctx.Done():
		return &Error{Kind: KindNetwork, Op: op, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return decode(op, res.Val.([]byte), v)
	}
}

func (c *Client) post(ctx context.Context, path string, body, v any) error {
	data, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return decode(opName(http.MethodPost, path), data, v)
}

// opName labels a call for errors, without the query string.
func opName(method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return method + " " + path
}

func decode(op string, data []byte, v any) error {
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Kind: KindDecode, Op: op, Err: err}
	}
	return nil
}

// Graph fetches the current execution graph.
func (c *Client) Graph(ctx context.Context) (model.GraphSnapshot, error) {
	var snap model.GraphSnapshot
	if err := c.get(ctx, "/graph", &snap); err != nil {
		return model.GraphSnapshot{}, err
	}
	return snap, nil
}

// ListDrafts fetches every draft.
func (c *Client) ListDrafts(ctx context.Context) ([]model.Draft, error) {
	var out []model.Draft
	if err := c.get(ctx, "/drafts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListApproved fetches every approved artifact.
func (c *Client) ListApproved(ctx context.Context) ([]model.Approved, error) {
	var out []model.Approved
	if err := c.get(ctx, "/approved", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRuns fetches every run.
func (c *Client) ListRuns(ctx context.Context) ([]model.Run, error) {
	var out []model.Run
	if err := c.get(ctx, "/runs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun fetches one run including its log.
func (c *Client) GetRun(ctx context.Context, id string) (model.Run, error) {
	var r model.Run
	if err := c.get(ctx, "/runs/"+url.PathEscape(id), &r); err != nil {
		return model.Run{}, err
	}
	return r, nil
}

// Collections is the input of the timeline: all three collections fetched together.
type Collections struct {
	Drafts    []model.Draft    `json:"drafts"`
	Approveds []model.Approved `json:"approved"`
	Runs      []model.Run      `json:"runs"`
}

// Collections fetches drafts, approved artifacts and runs concurrently. It
// fails if any of the three fails.
func (c *Client) Collections(ctx context.Context) (Collections, error) {
	var out Collections
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Drafts, err = c.ListDrafts(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.Approveds, err = c.ListApproved(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.Runs, err = c.ListRuns(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Collections{}, err
	}
	return out, nil
}

// Generate asks the backend to turn a natural-language prompt into a draft.
func (c *Client) Generate(ctx context.Context, prompt string) (model.Draft, error) {
	var d model.Draft
	path := "/generate?" + url.Values{"prompt": {prompt}}.Encode()
	if err := c.post(ctx, path, nil, &d); err != nil {
		return model.Draft{}, err
	}
	return d, nil
}

type createDraftRequest struct {
	Prompt  string `json:"prompt"`
	Content string `json:"content,omitempty"`
}

// CreateDraft stores a manually written draft.
func (c *Client) CreateDraft(ctx context.Context, prompt, content string) (model.Draft, error) {
	var d model.Draft
	if err := c.post(ctx, "/drafts", createDraftRequest{Prompt: prompt, Content: content}, &d); err != nil {
		return model.Draft{}, err
	}
	return d, nil
}

// Approve turns a draft into an approved artifact. The backend may start a run
// right away, in which case the result carries it.
func (c *Client) Approve(ctx context.Context, draftID string) (model.ApproveResult, error) {
	var res model.ApproveResult
	if err := c.post(ctx, "/drafts/"+url.PathEscape(draftID)+"/approve", nil, &res); err != nil {
		return model.ApproveResult{}, err
	}
	return res, nil
}

// Reject marks a draft rejected. When the backend answers without a body the
// returned draft carries only the id and the new status.
func (c *Client) Reject(ctx context.Context, draftID string) (model.Draft, error) {
	path := "/drafts/" + url.PathEscape(draftID) + "/reject"
	data, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return model.Draft{}, err
	}
	d := model.Draft{ID: draftID, Status: model.DraftRejected}
	if len(bytes.TrimSpace(data)) == 0 {
		return d, nil
	}
	if err := decode(opName(http.MethodPost, path), data, &d); err != nil {
		return model.Draft{}, err
	}
	return d, nil
}

type createRunRequest struct {
	ApprovedID string `json:"approved_id"`
}

// CreateRun starts a run of an approved artifact.
func (c *Client) CreateRun(ctx context.Context, approvedID string) (model.Run, error) {
	var r model.Run
	if err := c.post(ctx, "/runs", createRunRequest{ApprovedID: approvedID}, &r); err != nil {
		return model.Run{}, err
	}
	return r, nil
}

// SaveGraph submits an edited graph; the backend stores it as a new draft.
func (c *Client) SaveGraph(ctx context.Context, req model.SaveGraphRequest) (model.Draft, error) {
	var d model.Draft
	if err := c.post(ctx, "/graph/drafts", req, &d); err != nil {
		return model.Draft{}, err
	}
	return d, nil
}
