// SPDX-License-Identifier: MPL-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AppConfig is the flat JSON document read by the notebook application.
// Values are placeholders the operator edits after provisioning; the
// provisioner only guarantees the file exists before a dependent unit starts.
type AppConfig struct {
	ModelID          string `json:"model_id"`
	EmbeddingModelID string `json:"embedding_model_id"`
	ServiceEndpoint  string `json:"service_endpoint"`
	CompartmentID    string `json:"compartment_id"`
}

// DefaultAppConfig returns the placeholder document.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		ModelID:          "<chat-model-id>",
		EmbeddingModelID: "<embedding-model-id>",
		ServiceEndpoint:  "https://inference.generativeai.example.com",
		CompartmentID:    "<compartment-ocid>",
	}
}

// WriteAppConfig writes the placeholder document at path unless a file is
// already there — an existing document may hold operator edits and is never
// overwritten.
func WriteAppConfig(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat app config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create app config directory: %w", err)
	}

	data, err := json.MarshalIndent(DefaultAppConfig(), "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode app config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return false, fmt.Errorf("write app config: %w", err)
	}
	return true, nil
}

// ReadAppConfig loads the document at path.
func ReadAppConfig(path string) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read app config: %w", err)
	}
	var ac AppConfig
	if err := json.Unmarshal(data, &ac); err != nil {
		return AppConfig{}, fmt.Errorf("parse app config: %w", err)
	}
	return ac, nil
}
