package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/artifact"
)

// artifactLine is one NDJSON line of the generator stream. A line may
// also be a bare object, which is taken as the partial object.
type artifactLine struct {
	PartialObject map[string]any `json:"partialObject"`
	Error         string         `json:"error"`
	Done          bool           `json:"done"`
}

// Generate posts the request and streams newline-delimited object
// snapshots back.
func (c *Client) Generate(ctx context.Context, in artifact.Request) (*schema.StreamReader[map[string]any], error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.ArtifactPath, "", nil, in)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	// Generation outlives the client timeout; ctx bounds it instead.
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Method: req.Method, URL: req.URL.Path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	sr, sw := schema.Pipe[map[string]any](8)
	go func() {
		defer sw.Close()
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			obj, done, err := decodeArtifactLine(line)
			if err != nil {
				sw.Send(nil, err)
				return
			}
			if obj != nil && sw.Send(obj, nil) {
				return
			}
			if done {
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			sw.Send(nil, fmt.Errorf("artifact stream interrupted: %w", err))
		}
	}()
	return sr, nil
}

func decodeArtifactLine(line []byte) (map[string]any, bool, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, false, fmt.Errorf("malformed artifact line: %w", err)
	}
	_, hasPartial := raw["partialObject"]
	_, hasError := raw["error"]
	_, hasDone := raw["done"]
	if !hasPartial && !hasError && !hasDone {
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			return nil, false, err
		}
		return obj, false, nil
	}

	var l artifactLine
	if err := json.Unmarshal(line, &l); err != nil {
		return nil, false, fmt.Errorf("malformed artifact line: %w", err)
	}
	if l.Error != "" {
		return nil, true, errors.New(l.Error)
	}
	return l.PartialObject, l.Done, nil
}

var _ artifact.Generator = (*Client)(nil)
