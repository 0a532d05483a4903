package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/settlement-ledger/internal/amount"
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// contentGenerator is the part of the genai client the classifier uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClassifier classifies notification emails the pattern extractor could
// not place, using a Gemini model.
type GeminiClassifier struct {
	models contentGenerator
	model  string
}

// NewGeminiClassifier creates a classifier backed by the Gemini API. The API
// key and backend come from the standard GOOGLE_* environment variables.
func NewGeminiClassifier(ctx context.Context, model string) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClassifier: create genai client: %w", err)
	}
	return newGeminiClassifierWithModels(client.Models, model), nil
}

func newGeminiClassifierWithModels(models contentGenerator, model string) *GeminiClassifier {
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiClassifier{models: models, model: model}
}

// modelDraft is the JSON object the model is asked to return. Amounts are
// kept raw so both numbers and formatted strings are accepted.
type modelDraft struct {
	Kind            string          `json:"kind"`
	VirtualAmount   json.RawMessage `json:"virtual_amount"`
	BankCredit      json.RawMessage `json:"bank_credit"`
	IndifiDeduction json.RawMessage `json:"indifi_deduction"`
	TransactionRef  *string         `json:"transaction_ref"`
	VirtualCode     *string         `json:"virtual_code"`
	BankAccount     *string         `json:"bank_account"`
}

// Classify returns the model's draft for the message. The draft is not
// normalized; callers pass it through the extractor's Normalize.
func (c *GeminiClassifier) Classify(ctx context.Context, subject, body string) (domain.Draft, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildClassificationPrompt(subject, body)},
			},
		},
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, classificationConfig())
	if err != nil {
		return domain.Draft{}, fmt.Errorf("Classify: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return domain.Draft{}, fmt.Errorf("Classify: empty response from model")
	}

	return parseModelDraft(rawText)
}

// classificationConfig asks for a JSON object shaped like modelDraft.
func classificationConfig() *genai.GenerateContentConfig {
	text := &genai.Schema{Type: genai.TypeString, Nullable: genai.Ptr(true)}
	number := &genai.Schema{Type: genai.TypeNumber, Nullable: genai.Ptr(true)}
	return &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"kind": {
					Type: genai.TypeString,
					Enum: []string{
						string(domain.KindVirtualCredit),
						string(domain.KindReleaseToBank),
						string(domain.KindEMIDeduction),
						string(domain.KindUnknown),
					},
				},
				"virtual_amount":   number,
				"bank_credit":      number,
				"indifi_deduction": number,
				"transaction_ref":  text,
				"virtual_code":     text,
				"bank_account":     text,
			},
			Required: []string{"kind"},
			PropertyOrdering: []string{
				"kind", "virtual_amount", "bank_credit", "indifi_deduction",
				"transaction_ref", "virtual_code", "bank_account",
			},
		},
	}
}

// signedOrExponent matches amounts amount.Parse would silently misread.
var signedOrExponent = regexp.MustCompile(`[-\x{2212}]|\d\s*[eE][+-]?\d`)

func modelAmount(raw json.RawMessage) decimal.NullDecimal {
	s := string(raw)
	if signedOrExponent.MatchString(s) {
		return decimal.NullDecimal{}
	}
	return amount.Parse(s)
}

func parseModelDraft(rawText string) (domain.Draft, error) {
	var md modelDraft
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &md); err != nil {
		return domain.Draft{}, fmt.Errorf("parseModelDraft: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}

	return domain.Draft{
		Kind:            domain.FactKind(strings.TrimSpace(md.Kind)),
		VirtualAmount:   modelAmount(md.VirtualAmount),
		BankCredit:      modelAmount(md.BankCredit),
		IndifiDeduction: modelAmount(md.IndifiDeduction),
		TransactionRef:  nonEmpty(md.TransactionRef),
		VirtualCode:     nonEmpty(md.VirtualCode),
		BankAccount:     nonEmpty(md.BankAccount),
	}, nil
}

func nonEmpty(p *string) *string {
	if p == nil {
		return nil
	}
	return domain.StringPtr(strings.TrimSpace(*p))
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost object if the model added prose around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
