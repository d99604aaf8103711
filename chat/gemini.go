package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"sherlock/storage"
)

const systemPrompt = `You are the Sherlock Assistant, an AI assistant for a deepfake video detection service.
You help users with:
- Interpreting analysis reports (verdicts, confidence, suspicious frames)
- Understanding how frame-level scoring and aggregation work
- Choosing between the available detection models
- General questions about media forensics

Provide helpful, accurate, and concise responses. Be technical when needed but explain complex concepts clearly.
Keep responses conversational and under 200 words unless more detail is specifically requested.`

// GeminiClient answers questions about analysis reports.
type GeminiClient struct {
	client *genai.Client
	ctx    context.Context
}

// NewGeminiClient builds the assistant client. Requires GEMINI_API_KEY.
func NewGeminiClient() (*GeminiClient, error) {
	ctx := context.Background()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %v", err)
	}

	return &GeminiClient{
		client: client,
		ctx:    ctx,
	}, nil
}

// GenerateResponse answers a free-form question.
func (g *GeminiClient) GenerateResponse(message string) (string, error) {
	return g.generate(message)
}

// ExplainReport answers a question grounded in one stored report. The
// record is serialized into the prompt as context.
func (g *GeminiClient) ExplainReport(question string, rec storage.Record) (string, error) {
	reportJSON, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize report: %v", err)
	}

	prompt := fmt.Sprintf("Here is a completed analysis report:\n\n%s\n\nQuestion: %s", reportJSON, question)
	return g.generate(prompt)
}

func (g *GeminiClient) generate(message string) (string, error) {
	systemInstruction := genai.NewContentFromText(systemPrompt, genai.RoleModel)
	userContent := genai.NewContentFromText(message, genai.RoleUser)

	config := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Temperature:       genai.Ptr(float32(0.7)),
		TopP:              genai.Ptr(float32(0.8)),
		TopK:              genai.Ptr(float32(40)),
		MaxOutputTokens:   int32(400),
	}

	resp, err := g.client.Models.GenerateContent(
		g.ctx,
		"gemini-2.5-flash",
		[]*genai.Content{userContent},
		config,
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %v", err)
	}

	text := resp.Text()
	if text == "" {
		return "I'm sorry, I couldn't generate a response. Please try rephrasing your question.", nil
	}

	return strings.ReplaceAll(text, "*", ""), nil
}
