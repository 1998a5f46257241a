package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/hubagent/internal/models"
	"github.com/hyperjump/hubagent/internal/retrieval"
	"github.com/hyperjump/hubagent/internal/server"
)

// apiClient talks to a running "hubagent serve".
var apiClient = &http.Client{Timeout: 2 * time.Minute}

// callAPI sends in as JSON (when non-nil) and decodes the reply into out.
// Non-2xx replies are errors carrying the server's error field or body.
func callAPI(method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func askViaHTTP(serverURL, question string) (models.AgentAnswer, error) {
	var ans models.AgentAnswer
	err := callAPI(http.MethodPost, serverURL+"/api/v1/ask", server.AskRequest{Question: question}, &ans)
	return ans, err
}

func rebuildViaHTTP(serverURL string) (retrieval.Status, error) {
	var out server.RebuildResponse
	var st retrieval.Status
	out.Status = &st
	err := callAPI(http.MethodPost, serverURL+"/api/v1/index/rebuild", nil, &out)
	return st, err
}

func statusViaHTTP(serverURL string) (retrieval.Status, error) {
	var st retrieval.Status
	err := callAPI(http.MethodGet, serverURL+"/api/v1/index/status", nil, &st)
	return st, err
}
