package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

// filePurpose marks uploads meant to be referenced from chat inputs.
const filePurpose = goopenai.PurposeType("user_data")

var _ llm.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return ProviderName }

func (a *Adapter) Variants() []string {
	out := make([]string, len(a.cfg.Variants))
	copy(out, a.cfg.Variants)
	return out
}

// Call uploads binary documents, asks chat/completions for a schema-shaped answer and
// removes the uploads again before returning.
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

	a.log.Info("llm.openai.call.start",
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

	var uploaded []string
	defer func() { a.cleanup(ctx, rid, uploaded) }()

	content := make([]map[string]any, 0, len(req.Documents)+2)
	if o := llm.BuildOverridePart(req.ContextOverride); o != "" {
		content = append(content, textPart(o))
	}
	for _, doc := range req.Documents {
		mt := constants.NormalizeMediaType(doc.MediaType)
		switch {
		case constants.IsImage(mt):
			content = append(content, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": llm.DataURL(doc)},
			})
		case constants.IsText(mt):
			content = append(content, textPart("Document "+doc.Name+":\n"+string(doc.Data)))
		default:
			f, err := a.files.CreateFileBytes(ctx, goopenai.FileBytesRequest{
				Name:    uploadName(doc),
				Bytes:   doc.Data,
				Purpose: filePurpose,
			})
			if err != nil {
				return a.fail(rid, start, classifyAPIError(err, variant))
			}
			uploaded = append(uploaded, f.ID)
			a.log.Debug("llm.openai.file.uploaded", zap.String("req_id", rid), zap.String("file_id", f.ID), zap.String("name", doc.Name))
			content = append(content, map[string]any{
				"type": "file",
				"file": map[string]any{"file_id": f.ID},
			})
		}
	}
	content = append(content, textPart("Instruction: "+strings.TrimSpace(req.Prompt)))

	body := map[string]any{
		"model":       variant,
		"temperature": a.cfg.Temperature,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "document_analysis",
				"schema": llm.BuildAnalysisJSONSchema(),
				"strict": false,
			},
		},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt()},
			{"role": "user", "content": content},
		},
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + a.cfg.APIKey}
	raw, status, err := llm.SendJSON(ctx, a.http, endpoint, body, headers, a.log)
	if err != nil {
		callErr := llm.NewCallError(llm.KindForTransportError(err), ProviderName, variant, err)
		if status != 0 {
			callErr.Kind = llm.KindForHTTPStatus(status)
			callErr.StatusCode = status
			callErr.Message = apiMessage(raw, status)
		}
		return a.fail(rid, start, callErr)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
				Refusal string `json:"refusal"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return a.fail(rid, start, llm.NewCallError(llm.KindMalformed, ProviderName, variant, fmt.Errorf("decode openai response: %w", err)))
	}
	if len(cc.Choices) == 0 {
		return a.fail(rid, start, &llm.ProviderCallError{Kind: llm.KindMalformed, Provider: ProviderName, Variant: variant, Message: "no choices in openai response"})
	}
	msg := cc.Choices[0].Message
	if msg.Refusal != "" {
		return a.fail(rid, start, &llm.ProviderCallError{Kind: llm.KindUnknown, Provider: ProviderName, Variant: variant, Message: "refused: " + msg.Refusal})
	}

	result, err := llm.DecodeResult([]byte(msg.Content), a.log)
	if err != nil {
		a.log.Warn("llm.openai.schema_validation_failed",
			zap.String("req_id", rid), zap.Error(err), zap.Int("content_bytes", len(msg.Content)))
		return a.fail(rid, start, llm.NewCallError(llm.KindMalformed, ProviderName, variant, err))
	}

	a.log.Info("llm.openai.call.ok",
		zap.String("req_id", rid),
		zap.String("model", variant),
		zap.Int("narrative_len", len(result.Narrative)),
		zap.Int("metadata", len(result.Metadata)),
		zap.Int("uploaded", len(uploaded)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return llm.Succeeded(result)
}

// cleanup deletes uploaded files even when the call context is already done.
func (a *Adapter) cleanup(ctx context.Context, rid string, ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := a.files.DeleteFile(ctx, id); err != nil {
			a.log.Warn("llm.openai.file.delete_failed", zap.String("req_id", rid), zap.String("file_id", id), zap.Error(err))
		}
	}
}

func (a *Adapter) fail(rid string, start time.Time, err *llm.ProviderCallError) llm.Outcome {
	a.log.Warn("llm.openai.call.failed",
		zap.String("req_id", rid),
		zap.String("model", err.Variant),
		zap.String("kind", err.Kind.String()),
		zap.Int("status", err.StatusCode),
		zap.Error(err),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return llm.Failed(err)
}

func classifyAPIError(err error, variant string) *llm.ProviderCallError {
	callErr := llm.NewCallError(llm.KindForTransportError(err), ProviderName, variant, err)
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		callErr.StatusCode = apiErr.HTTPStatusCode
		callErr.Kind = llm.KindForHTTPStatus(apiErr.HTTPStatusCode)
		return callErr
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		callErr.StatusCode = reqErr.HTTPStatusCode
		callErr.Kind = llm.KindForHTTPStatus(reqErr.HTTPStatusCode)
	}
	return callErr
}

// apiMessage extracts error.message from an OpenAI error body, falling back to the raw text.
func apiMessage(raw []byte, status int) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		s = s[:512]
	}
	if s == "" {
		return fmt.Sprintf("status %d", status)
	}
	return s
}

func textPart(s string) map[string]any {
	return map[string]any{"type": "text", "text": s}
}

// uploadName keeps the original name and makes sure it carries an extension the Files API accepts.
func uploadName(doc llm.Document) string {
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = "document"
	}
	if !strings.Contains(name, ".") && constants.NormalizeMediaType(doc.MediaType) == constants.MediaTypePDF {
		name += ".pdf"
	}
	return name
}
