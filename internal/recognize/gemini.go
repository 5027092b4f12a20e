package recognize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ocrPrompt instructs the vision model to act as a plain text recognizer
const ocrPrompt = `You are a text recognition (OCR) engine. Read every piece of text visible in the image, top to bottom, left to right. Keep separate visual blocks of text on separate lines.

Return ONLY valid JSON in this exact format:
{
  "text": "all recognized text, newline separated",
  "regions": 0
}

Important:
- "text" must contain the recognized text exactly as printed, including numbers and punctuation
- "regions" must be the number of distinct text blocks you found (an integer)
- If the image contains no readable text, return {"text": "", "regions": 0}
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// Gemini implements the Recognizer interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Recognizer instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// RecognizeText extracts text from a PNG image
func (g *Gemini) RecognizeText(pngData []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(ocrPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	// Extract text response
	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	result, err := parseRecognitionJSON(strings.TrimSpace(responseText.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing recognition result: %w", err)
	}

	return result, nil
}

// Close closes the underlying Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
