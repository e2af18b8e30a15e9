package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cenkalti/backoff/v4"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/capture"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/consent"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/research"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

var (
	_ consent.Service         = (*Client)(nil)
	_ research.LeadResearcher = (*Client)(nil)
	_ research.Searcher       = (*Client)(nil)
	_ research.URLAnalyzer    = (*Client)(nil)
	_ research.SnapshotReader = (*Client)(nil)
	_ capture.Analyzer        = (*Client)(nil)
)

// Status reads the consent record for sessionID. A missing record is
// returned as nil.
func (c *Client) Status(ctx context.Context, sessionID string) (*types.ConsentRecord, error) {
	var record *types.ConsentRecord
	op := func() error {
		req, err := c.newRequest(ctx, http.MethodGet, c.cfg.ConsentPath, sessionID, url.Values{"sessionId": {sessionID}}, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		var r types.ConsentRecord
		found, err := c.do(req, &r)
		if err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if found {
			r.SessionID = sessionID
			record = &r
		}
		return nil
	}
	if err := backoff.Retry(op, c.newBackoff(ctx)); err != nil {
		return nil, err
	}
	return record, nil
}

// Submit posts the consent form.
func (c *Client) Submit(ctx context.Context, sessionID string, input types.ConsentInput) error {
	return c.postJSON(ctx, c.cfg.ConsentPath, sessionID, input, nil)
}

// LeadResearch asks the lead research tool about the prospect.
func (c *Client) LeadResearch(ctx context.Context, in types.LeadResearchRequest) (*types.LeadResearchResult, error) {
	var out types.LeadResearchResult
	if err := c.postJSON(ctx, c.cfg.LeadResearchPath, in.SessionID, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type searchRequest struct {
	Query string `json:"query"`
}

// Search runs a web search.
func (c *Client) Search(ctx context.Context, query string) (*types.ResearchResult, error) {
	var out types.ResearchResult
	if err := c.postJSON(ctx, c.cfg.SearchPath, "", searchRequest{Query: query}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type urlContextRequest struct {
	URLs  []string `json:"urls"`
	Query string   `json:"query"`
}

// AnalyzeURLs summarizes urls in the context of query.
func (c *Client) AnalyzeURLs(ctx context.Context, urls []string, query string) (*types.ResearchResult, error) {
	var out types.ResearchResult
	if err := c.postJSON(ctx, c.cfg.URLContextPath, "", urlContextRequest{URLs: urls, Query: query}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type frameRequest struct {
	Image   string       `json:"image"`
	Type    string       `json:"type"`
	Context frameContext `json:"context"`
}

type frameContext struct {
	Prompt     string `json:"prompt"`
	Trigger    string `json:"trigger"`
	Priority   string `json:"priority"`
	Quality    string `json:"quality"`
	CapturedAt int64  `json:"capturedAt"`
	RequestID  string `json:"requestId"`
}

// AnalyzeFrame sends one captured frame as a data URI.
func (c *Client) AnalyzeFrame(ctx context.Context, req types.AnalysisRequest) (*types.FrameAnalysis, error) {
	body := frameRequest{
		Image: DataURI(req.MediaType, req.Image),
		Type:  string(req.WidgetType),
		Context: frameContext{
			Prompt:     req.Prompt,
			Trigger:    string(req.Trigger),
			Priority:   string(req.Priority),
			Quality:    req.Quality,
			CapturedAt: req.CapturedAt,
			RequestID:  req.ID,
		},
	}
	var out types.FrameAnalysis
	if err := c.postJSON(ctx, c.cfg.FramePath, "", body, &out); err != nil {
		return nil, err
	}
	if out.Analysis == "" {
		return nil, fmt.Errorf("malformed response from %s: missing analysis", c.cfg.FramePath)
	}
	return &out, nil
}

// Snapshot reads the context snapshot for sessionID; nil when none exists.
func (c *Client) Snapshot(ctx context.Context, sessionID string) (*types.ContextSnapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.SnapshotPath, sessionID, url.Values{"sessionId": {sessionID}}, nil)
	if err != nil {
		return nil, err
	}
	var out types.ContextSnapshot
	found, err := c.do(req, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// DataURI encodes data as a base64 data URI.
func DataURI(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
