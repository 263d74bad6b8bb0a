package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/openrelay/openrelay/internal/requester"
)

// Sheets talks to a spreadsheet web app endpoint. Reads are GET requests
// with an action query parameter; writes POST a JSON action envelope. The
// endpoint is resolved per requester on every call.
type Sheets struct {
	client  *http.Client
	resolve EndpointResolver
}

func NewSheets(client *http.Client, resolve EndpointResolver) *Sheets {
	return &Sheets{client: client, resolve: resolve}
}

func (s *Sheets) endpoint(ctx context.Context) (string, error) {
	ep := s.resolve(requester.ID(ctx)).Sheets
	if ep == "" {
		return "", fmt.Errorf("no sheets endpoint configured for requester %q", requester.ID(ctx))
	}
	return ep, nil
}

// ListSheets returns the names of all sheets in the document.
func (s *Sheets) ListSheets(ctx context.Context, args map[string]any) (any, error) {
	ep, err := s.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	return getJSON(ctx, s.client, ep, url.Values{"action": {"listSheets"}})
}

// ReadSheet returns the contents of one sheet, or the default sheet when
// sheet_name is absent.
func (s *Sheets) ReadSheet(ctx context.Context, args map[string]any) (any, error) {
	ep, err := s.endpoint(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{"action": {"readSheet"}}
	if name := stringArg(args, "sheet_name"); name != "" {
		params.Set("sheetName", name)
	}
	return getJSON(ctx, s.client, ep, params)
}

// WriteCells applies cell updates. The cells argument is a map of cell
// references to {"value": ...} or {"formula": ...} objects; a string value
// that is JSON is decoded first.
func (s *Sheets) WriteCells(ctx context.Context, args map[string]any) (any, error) {
	ep, err := s.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	cells, ok := args["cells"]
	if !ok {
		return nil, fmt.Errorf("write_cells: missing cells argument")
	}
	if raw, isString := cells.(string); isString {
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, fmt.Errorf("write_cells: cells is not valid JSON: %w", err)
		}
		cells = decoded
	}

	payload := map[string]any{
		"action": "writeCells",
		"data":   map[string]any{"cells": cells},
	}
	return postJSON(ctx, s.client, ep, payload)
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, params url.Values) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return doJSON(client, req)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, req)
}

func doJSON(client *http.Client, req *http.Request) (any, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding upstream response: %w", err)
	}
	return payload, nil
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
