package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var adminClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(apiAddr, path string, out interface{}) error {
	resp, err := adminClient.Get(fmt.Sprintf("http://%s%s", apiAddr, path))
	if err != nil {
		return fmt.Errorf("reach %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func postJSON(apiAddr, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	resp, err := adminClient.Post(fmt.Sprintf("http://%s%s", apiAddr, path), "application/json", reader)
	if err != nil {
		return fmt.Errorf("reach %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

// postJSONDecode posts body and decodes the response into out regardless of
// status code, for endpoints like /command whose error responses are still
// meaningful JSON (e.g. a not-leader redirect).
func postJSONDecode(apiAddr, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := adminClient.Post(fmt.Sprintf("http://%s%s", apiAddr, path), "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reach %s: %w", apiAddr, err)
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
