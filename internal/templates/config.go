package templates

import (
	"os"
	"path/filepath"
)

const configTemplate = `# apex configuration. Environment variables and flags override these values.
environment: dev
filesystem_type: local

sam3d:
  # URL of a prediction server, or the display name of a managed endpoint.
  endpoint: http://localhost:8080/predict
  timeout: 600s
  max_retries: 3

gcp:
  project_id: ""
  region: us-central1

server:
  max_concurrency: 1
  rate_limit: 0
  rate_burst: 1
  preload: true

model:
  command: python3 /app/sam3d/infer.py
  repo_id: facebook/sam-3d-objects

imagegen:
  prefer_nano_banana: true
  gemini_model: gemini-3-pro-image-preview
  openai_model: dall-e-3
  safety_filter: false

# s3:
#   endpoint_url: "https://nyc3.digitaloceanspaces.com"
#   region_name: "nyc3"
#   bucket_name: "apex-artifacts"
#   folder: "public"
#   public_url: "https://storage.example.com"
`

func GetConfigTemplate() string {
	return configTemplate
}

func WriteConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(GetConfigTemplate())
	if err != nil {
		return err
	}

	return nil
}
