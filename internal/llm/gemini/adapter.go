package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

type generateFunc func(ctx context.Context, model *genai.GenerativeModel, parts []genai.Part) (*genai.GenerateContentResponse, error)

// Adapter implements llm.Adapter on top of the Gemini generateContent API.
// It keeps no per-call state and is safe for concurrent use.
type Adapter struct {
	cfg     Config
	client  *genai.Client
	limiter *rate.Limiter
	log     *zap.Logger

	newModel func(variant string) *genai.GenerativeModel
	generate generateFunc
}

var _ llm.Adapter = (*Adapter)(nil)

// NewAdapter builds the Gemini client from cfg.
func NewAdapter(ctx context.Context, cfg Config, logger *zap.Logger) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	a := newAdapter(cfg, logger, client.GenerativeModel, func(ctx context.Context, m *genai.GenerativeModel, parts []genai.Part) (*genai.GenerateContentResponse, error) {
		return m.GenerateContent(ctx, parts...)
	})
	a.client = client
	return a, nil
}

func newAdapter(cfg Config, logger *zap.Logger, newModel func(string) *genai.GenerativeModel, gen generateFunc) *Adapter {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		cfg:      cfg,
		log:      logger.With(zap.String("component", "llm.gemini")),
		newModel: newModel,
		generate: gen,
	}
	if cfg.RequestsPerSecond > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return a
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) Variants() []string {
	out := make([]string, len(a.cfg.Variants))
	copy(out, a.cfg.Variants)
	return out
}

// Call sends all documents plus the instruction in a single schema-constrained request.
func (a *Adapter) Call(ctx context.Context, req llm.AnalysisRequest, variant string, timeout time.Duration) llm.Outcome {
	rid := uuid.New().String()
	start := time.Now()
	if variant == "" {
		variant = a.cfg.Variants[0]
	}
	if timeout <= 0 {
		timeout = a.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.log.Info("llm.gemini.call.start",
		zap.String("req_id", rid),
		zap.String("model", variant),
		zap.Float32("temp", a.cfg.Temperature),
		zap.Int("documents", len(req.Documents)),
		zap.Bool("has_override", strings.TrimSpace(req.ContextOverride) != ""),
	)

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return a.fail(rid, start, llm.NewCallError(llm.KindUnavailable, ProviderName, variant, fmt.Errorf("rate limiter: %w", err)))
		}
	}

	model := a.structuredModel(variant)
	resp, err := a.generate(ctx, model, buildParts(req))
	if err != nil {
		return a.fail(rid, start, classify(err, variant))
	}

	text := responseText(resp)
	if text == "" {
		return a.fail(rid, start, &llm.ProviderCallError{
			Kind: llm.KindMalformed, Provider: ProviderName, Variant: variant,
			Message: "no text in response candidates",
		})
	}

	result, err := llm.DecodeResult([]byte(text), a.log)
	if err != nil {
		a.log.Warn("llm.gemini.schema_validation_failed",
			zap.String("req_id", rid), zap.Error(err), zap.Int("content_bytes", len(text)))
		return a.fail(rid, start, llm.NewCallError(llm.KindMalformed, ProviderName, variant, err))
	}

	a.log.Info("llm.gemini.call.ok",
		zap.String("req_id", rid),
		zap.String("model", variant),
		zap.Int("narrative_len", len(result.Narrative)),
		zap.Int("metadata", len(result.Metadata)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return llm.Succeeded(result)
}

// Ask answers a free-text question about content with the default variant.
func (a *Adapter) Ask(ctx context.Context, content, question string) (string, error) {
	variant := a.cfg.Variants[0]
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", llm.NewCallError(llm.KindUnavailable, ProviderName, variant, err)
		}
	}

	model := a.newModel(variant)
	model.SetTemperature(a.cfg.Temperature)
	resp, err := a.generate(ctx, model, []genai.Part{genai.Text(content), genai.Text(question)})
	if err != nil {
		callErr := classify(err, variant)
		a.log.Warn("llm.gemini.ask.failed", zap.String("kind", callErr.Kind.String()), zap.Error(err))
		return "", callErr
	}
	text := responseText(resp)
	if text == "" {
		return "", &llm.ProviderCallError{Kind: llm.KindMalformed, Provider: ProviderName, Variant: variant, Message: "no text in response candidates"}
	}
	return text, nil
}

func (a *Adapter) structuredModel(variant string) *genai.GenerativeModel {
	model := a.newModel(variant)
	model.SetTemperature(a.cfg.Temperature)
	model.ResponseMIMEType = constants.MediaTypeJSON
	model.ResponseSchema = responseSchema()
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(llm.BuildSystemPrompt())}}
	return model
}

func (a *Adapter) fail(rid string, start time.Time, err *llm.ProviderCallError) llm.Outcome {
	a.log.Warn("llm.gemini.call.failed",
		zap.String("req_id", rid),
		zap.String("model", err.Variant),
		zap.String("kind", err.Kind.String()),
		zap.Int("status", err.StatusCode),
		zap.Error(err),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return llm.Failed(err)
}

// buildParts orders the request: override, documents in input order, instruction.
func buildParts(req llm.AnalysisRequest) []genai.Part {
	parts := make([]genai.Part, 0, len(req.Documents)+2)
	if o := llm.BuildOverridePart(req.ContextOverride); o != "" {
		parts = append(parts, genai.Text(o))
	}
	for _, doc := range req.Documents {
		mt := constants.NormalizeMediaType(doc.MediaType)
		if mt == "" {
			mt = constants.MediaTypeUnknown
		}
		parts = append(parts, genai.Blob{MIMEType: mt, Data: doc.Data})
	}
	parts = append(parts, genai.Text("Instruction: "+strings.TrimSpace(req.Prompt)))
	return parts
}

func responseSchema() *genai.Schema {
	props := map[string]*genai.Schema{
		constants.NarrativeField: {Type: genai.TypeString, Description: llm.NarrativeDescription},
	}
	for _, slot := range constants.Slots() {
		props[string(slot)] = &genai.Schema{
			Type:        genai.TypeString,
			Description: llm.SlotDescription(slot),
			Nullable:    true,
		}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   []string{constants.NarrativeField},
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range c.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}
