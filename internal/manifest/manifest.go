// Package manifest records what a pipeline run consumed and produced. The
// manifest is written next to the artifact and is the durable audit record
// for a release.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Inputs captures the repository state a release was produced from.
type Inputs struct {
	Repo   string `json:"repo"`
	URL    string `json:"url,omitempty"`
	Commit string `json:"commit"`
	Tag    string `json:"tag"`
}

// Outputs captures the produced artifact.
type Outputs struct {
	Artifact  string `json:"artifact,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	Size      int64  `json:"size,omitempty"`
	IndexName string `json:"index_name,omitempty"`
	Version   string `json:"version"`
}

// TaskResult summarizes one pipeline task.
type TaskResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"` // success|skipped|failed
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ReleaseManifest is the persisted record of one pipeline run.
type ReleaseManifest struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Inputs      Inputs       `json:"inputs"`
	Outputs     Outputs      `json:"outputs"`
	Status      string       `json:"status"`
	DurationMS  int64        `json:"duration_ms"`
	TaskResults []TaskResult `json:"task_results,omitempty"`
}

// ToJSON serializes the manifest with stable indentation.
func (m *ReleaseManifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// FromJSON deserializes a manifest.
func FromJSON(data []byte) (*ReleaseManifest, error) {
	var m ReleaseManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// WriteFile writes the manifest to path.
func (m *ReleaseManifest) WriteFile(path string) error {
	data, err := m.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadFile loads a manifest from path.
func ReadFile(path string) (*ReleaseManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return FromJSON(data)
}
