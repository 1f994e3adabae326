package config

import (
	"fmt"
	"os"
)

const exampleConfig = `# relbuilder configuration
project:
  name: labxdb
  summary: Database for biology labs
  license: MPL-2.0
  homepage: https://example.org/labxdb
  readme: README.md
  changelog: CHANGELOG.md

repository:
  path: .
  remote: origin
  # url: https://example.org/labxdb.git
  # auth:
  #   type: token
  #   token: ${GIT_TOKEN}

archive:
  output_dir: ./dist
  format: tar.gz

artifact_host:
  enabled: false
  url: https://artifacts.example.org/labxdb
  token_env: ARTIFACT_TOKEN

index:
  enabled: false
  url: https://upload.pypi.org/legacy/
  username: __token__
  token_file: ~/.pypi_token

announce:
  enabled: false
  nats_url: nats://localhost:4222
  subject: releases
  stream: RELEASES

daemon:
  poll_interval: 5m
  listen: :9477
  data_dir: ./relbuilder-data

retry:
  max_retries: 2
  backoff: linear
  initial_delay: 1s
  max_delay: 30s

logging:
  level: info
  format: text
`

// Init creates a new configuration file with example content
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
