package magnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// entityLabels are the labels an annotator may emit; anything else is
// dropped.
var entityLabels = map[string]bool{
	"PERSON": true, "ORG": true, "LOC": true, "PRODUCT": true,
	"TIME": true, "MONEY": true, "EVENT": true,
}

// LexiconAnnotator scores polarity from a fixed word list. It finds no
// entities and never fails.
type LexiconAnnotator struct {
	positiveWords map[string]float64
	negativeWords map[string]float64
}

// NewLexiconAnnotator creates an offline annotator.
func NewLexiconAnnotator() *LexiconAnnotator {
	return &LexiconAnnotator{
		positiveWords: buildPositiveWords(),
		negativeWords: buildNegativeWords(),
	}
}

// Annotate returns the mean polarity of the matched words, in [-1, 1].
func (a *LexiconAnnotator) Annotate(_ context.Context, text string) (Annotation, error) {
	ann := Annotation{Entities: []Entity{}}

	words := strings.Fields(strings.ToLower(text))
	var score float64
	matches := 0
	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if weight, ok := a.positiveWords[word]; ok {
			score += weight
			matches++
		}
		if weight, ok := a.negativeWords[word]; ok {
			score -= weight
			matches++
		}
	}
	if matches == 0 {
		return ann, nil
	}

	ann.Sentiment = score / float64(matches)
	if ann.Sentiment > 1 {
		ann.Sentiment = 1
	} else if ann.Sentiment < -1 {
		ann.Sentiment = -1
	}
	return ann, nil
}

func buildPositiveWords() map[string]float64 {
	return map[string]float64{
		"love":       0.9,
		"great":      0.8,
		"amazing":    0.9,
		"awesome":    0.9,
		"excellent":  0.9,
		"happy":      0.8,
		"glad":       0.6,
		"good":       0.5,
		"better":     0.4,
		"best":       0.7,
		"thanks":     0.5,
		"thank":      0.5,
		"helpful":    0.6,
		"easy":       0.5,
		"works":      0.4,
		"win":        0.6,
		"success":    0.8,
		"solved":     0.7,
		"fixed":      0.6,
		"progress":   0.5,
		"improved":   0.6,
		"excited":    0.7,
		"recommend":  0.5,
		"enjoy":      0.6,
		"fun":        0.5,
		"proud":      0.6,
		"motivated":  0.6,
		"productive": 0.5,
	}
}

func buildNegativeWords() map[string]float64 {
	return map[string]float64{
		"hate":        0.9,
		"terrible":    0.9,
		"awful":       0.9,
		"horrible":    0.9,
		"bad":         0.6,
		"worse":       0.6,
		"worst":       0.8,
		"sad":         0.6,
		"angry":       0.7,
		"annoying":    0.6,
		"broken":      0.6,
		"fail":        0.7,
		"failed":      0.7,
		"failing":     0.7,
		"struggling":  0.7,
		"stuck":       0.6,
		"frustrated":  0.8,
		"frustrating": 0.8,
		"anxious":     0.7,
		"stressed":    0.7,
		"overwhelmed": 0.7,
		"exhausted":   0.7,
		"burnout":     0.8,
		"hopeless":    0.9,
		"desperate":   0.8,
		"confused":    0.5,
		"lost":        0.5,
		"wasted":      0.6,
		"problem":     0.4,
		"issue":       0.3,
		"difficult":   0.5,
		"impossible":  0.7,
		"pain":        0.6,
		"scam":        0.9,
	}
}

// OpenAIAnnotator asks a chat model for sentiment and entities using a
// strict JSON schema reflected from Annotation.
type OpenAIAnnotator struct {
	client openai.Client
	model  string
	schema any
}

// NewOpenAIAnnotator creates an annotator for the given model.
func NewOpenAIAnnotator(cfg EmbeddingConfig, model string) (*OpenAIAnnotator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaObj := reflector.Reflect(&Annotation{})
	if schemaObj.Type == "" {
		schemaObj.Type = "object"
	}

	// The SDK takes the schema as a plain JSON value.
	schemaBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schema any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIAnnotator{
		client: openai.NewClient(opts...),
		model:  model,
		schema: schema,
	}, nil
}

const annotatorSystemPrompt = `You analyse short forum posts and news items.
Return the overall sentiment polarity of the text as a number from -1 (very negative) to 1 (very positive), 0 when neutral.
List the named entities mentioned in the text. Use only these labels: PERSON, ORG, LOC, PRODUCT, TIME, MONEY, EVENT.`

// Annotate calls the chat completions API once for text.
func (a *OpenAIAnnotator) Annotate(ctx context.Context, text string) (Annotation, error) {
	chatCompletion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(annotatorSystemPrompt),
			openai.UserMessage(text),
		},
		Model:       openai.ChatModel(a.model),
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "annotation",
					Description: openai.String("Sentiment polarity and named entities of a text"),
					Schema:      a.schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return Annotation{}, fmt.Errorf("failed to call OpenAI API: %w", err)
	}

	if len(chatCompletion.Choices) == 0 || chatCompletion.Choices[0].Message.Content == "" {
		return Annotation{}, errors.New("no content in annotation response")
	}

	var ann Annotation
	if err := json.Unmarshal([]byte(chatCompletion.Choices[0].Message.Content), &ann); err != nil {
		return Annotation{}, fmt.Errorf("failed to parse annotation: %w", err)
	}

	entities := make([]Entity, 0, len(ann.Entities))
	for _, e := range ann.Entities {
		e.Text = strings.TrimSpace(e.Text)
		if e.Text != "" && entityLabels[e.Label] {
			entities = append(entities, e)
		}
	}
	ann.Entities = entities
	return ann, nil
}
