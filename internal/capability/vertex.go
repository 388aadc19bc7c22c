// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package capability

import (
	"context"
	"fmt"
	"strings"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// VertexConfig identifies the GCP project and model for Vertex AI.
type VertexConfig struct {
	ProjectID       string
	Location        string
	Model           string
	CredentialsFile string
}

func (c VertexConfig) options() []option.ClientOption {
	if c.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(c.CredentialsFile)}
}

func (c VertexConfig) location() string {
	if c.Location == "" {
		return "us-central1"
	}
	return c.Location
}

// VertexEmbedder calls a Vertex AI text-embedding model through the
// prediction endpoint.
type VertexEmbedder struct {
	client   *aiplatform.PredictionClient
	endpoint string
}

// NewVertexEmbedder creates a prediction client for cfg.Model
// (e.g. "text-embedding-005").
func NewVertexEmbedder(ctx context.Context, cfg VertexConfig) (*VertexEmbedder, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("vertex project id is required")
	}
	opts := append(cfg.options(), option.WithEndpoint(cfg.location()+"-aiplatform.googleapis.com:443"))
	client, err := aiplatform.NewPredictionClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI prediction client: %w", err)
	}
	return &VertexEmbedder{
		client:   client,
		endpoint: fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", cfg.ProjectID, cfg.location(), cfg.Model),
	}, nil
}

// Embed generates an embedding with task_type RETRIEVAL_QUERY so stored
// messages and queries share one space.
func (v *VertexEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	instance, err := structpb.NewStruct(map[string]any{
		"content":   text,
		"task_type": "RETRIEVAL_QUERY",
	})
	if err != nil {
		return nil, fmt.Errorf("building instance: %w", err)
	}

	resp, err := v.client.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:  v.endpoint,
		Instances: []*structpb.Value{structpb.NewStructValue(instance)},
	})
	if err != nil {
		return nil, fmt.Errorf("vertex predict: %w", err)
	}
	if len(resp.Predictions) == 0 {
		return nil, fmt.Errorf("vertex returned no predictions")
	}

	values := resp.Predictions[0].GetStructValue().
		GetFields()["embeddings"].GetStructValue().
		GetFields()["values"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, fmt.Errorf("vertex prediction has no embedding values")
	}
	out := make([]float32, len(values))
	for i, val := range values {
		out[i] = float32(val.GetNumberValue())
	}
	return out, nil
}

// Close releases the prediction client.
func (v *VertexEmbedder) Close() error {
	return v.client.Close()
}

// VertexGenerator calls a Gemini model through the Vertex AI SDK.
type VertexGenerator struct {
	client *genai.Client
	model  string
}

// NewVertexGenerator creates a genai client for cfg.Model
// (e.g. "gemini-2.0-flash-lite-001").
func NewVertexGenerator(ctx context.Context, cfg VertexConfig) (*VertexGenerator, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("vertex project id is required")
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.location(), cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}
	return &VertexGenerator{client: client, model: cfg.Model}, nil
}

// Generate runs one GenerateContent call. A fresh model handle is built per
// call so concurrent requests never share mutable model settings.
func (g *VertexGenerator) Generate(ctx context.Context, r Request) (string, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return "", ErrEmptyInput
	}
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.2)
	if r.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(r.MaxTokens))
	}
	if r.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(r.System)}}
	}
	if r.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(r.Prompt))
	if err != nil {
		return "", fmt.Errorf("vertex generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("vertex returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("vertex returned no text parts")
	}
	return sb.String(), nil
}

// Close releases the genai client.
func (g *VertexGenerator) Close() error {
	return g.client.Close()
}
