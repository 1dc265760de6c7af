package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

const (
	citizenTextChars = 2200
	ocrEvidenceChars = 1600
	asrEvidenceChars = 1700
	maxPromptFiles   = 20
	maxAuditChars    = 12000
	maxErrorChars    = 240

	headerCitizenText = "[TEXTO DO CIDADÃO]"
	headerOCR         = "[OCR DE IMAGEM]"
	headerTranscript  = "[TRANSCRIÇÃO (ÁUDIO/VÍDEO)]"
)

const classifierFraming = "Você é um analista de triagem administrativa de manifestações de cidadãos. " +
	"Classifique a manifestação e produza um resumo curto. " +
	"Use SOMENTE o texto fornecido (texto digitado + OCR + transcrição). " +
	"Responda SOMENTE em JSON válido (um único objeto), sem markdown e sem texto fora do JSON."

// Evidence is the bounded text the classifier sees, in fixed priority order.
type Evidence struct {
	CitizenText          string
	OCRSummary           string
	TranscriptionSummary string
	Combined             string
}

func (e Evidence) Empty() bool {
	return strings.TrimSpace(e.Combined) == ""
}

func ComposeEvidence(sub *domain.Submission, doc *domain.ResultDocument, maxInput int) Evidence {
	evidence := Evidence{
		CitizenText:          domain.Truncate(sub.Text, citizenTextChars),
		OCRSummary:           domain.Truncate(doc.OCR().Text, ocrEvidenceChars),
		TranscriptionSummary: domain.Truncate(doc.Transcription().Summary, asrEvidenceChars),
	}

	sections := make([]string, 0, 3)
	if evidence.CitizenText != "" {
		sections = append(sections, headerCitizenText+"\n"+evidence.CitizenText)
	}
	if evidence.OCRSummary != "" {
		sections = append(sections, headerOCR+"\n"+evidence.OCRSummary)
	}
	if evidence.TranscriptionSummary != "" {
		sections = append(sections, headerTranscript+"\n"+evidence.TranscriptionSummary)
	}
	evidence.Combined = domain.Truncate(strings.Join(sections, "\n\n"), maxInput)
	return evidence
}

type promptFile struct {
	ID        string `json:"id"`
	Category  string `json:"tipo"`
	Name      string `json:"nome"`
	MimeType  string `json:"mime"`
	SizeBytes int64  `json:"tamanho_bytes"`
}

type promptPayload struct {
	SubmissionID string       `json:"submission_id"`
	Protocol     string       `json:"protocolo"`
	Type         string       `json:"tipo"`
	ContextText  string       `json:"contexto_texto"`
	Files        []promptFile `json:"arquivos"`
}

func buildClassificationRequest(sub *domain.Submission, evidence Evidence, cfg ClassifyStageConfig) (domain.OracleRequest, error) {
	schema := map[string]any{
		"categoria":            fmt.Sprintf("string (1 dentre %s)", strings.Join(domain.Categories, ", ")),
		"prioridade":           "string (baixa|media|alta|critica)",
		"tags":                 []string{"string (3 a 10 tags curtas pt-BR)"},
		"resumo_curto":         fmt.Sprintf("string (max %d chars, objetivo, sem emojis)", cfg.MaxSummary),
		"sentimento":           "string (negativo|neutro|positivo)",
		"confianca":            "int (0-100)",
		"pontos_chave":         []string{"string (até 6 itens)"},
		"necessita_mais_dados": "bool",
		"dados_faltantes":      []string{"string (se necessitar)"},
		"observacoes":          "string (opcional)",
	}

	files := sub.Files
	if len(files) > maxPromptFiles {
		files = files[:maxPromptFiles]
	}
	payload := promptPayload{
		SubmissionID: sub.ID,
		Protocol:     sub.Protocol,
		Type:         strings.ToLower(string(sub.Type)),
		ContextText:  evidence.Combined,
		Files:        make([]promptFile, 0, len(files)),
	}
	for _, file := range files {
		payload.Files = append(payload.Files, promptFile{
			ID:        file.ID,
			Category:  file.Category,
			Name:      file.OriginalName,
			MimeType:  file.MimeType,
			SizeBytes: file.SizeBytes,
		})
	}

	schemaJSON, err := marshalUnescaped(schema)
	if err != nil {
		return domain.OracleRequest{}, fmt.Errorf("marshal classification schema: %w", err)
	}
	payloadJSON, err := marshalUnescaped(payload)
	if err != nil {
		return domain.OracleRequest{}, fmt.Errorf("marshal classification payload: %w", err)
	}

	var user strings.Builder
	user.WriteString("Retorne um JSON seguindo este FORMATO:\n")
	user.WriteString(schemaJSON)
	user.WriteString("\n\nAgora analise estes DADOS:\n")
	user.WriteString(payloadJSON)
	user.WriteString("\n\nREGRAS:\n")
	user.WriteString("- Responda apenas JSON válido.\n")
	user.WriteString("- Não invente dados fora do contexto_texto.\n")
	user.WriteString("- Se o contexto estiver vazio, marque necessita_mais_dados=true.\n")

	return domain.OracleRequest{
		Messages: []domain.ChatMessage{
			{Role: "system", Content: classifierFraming},
			{Role: "user", Content: user.String()},
		},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, nil
}

// parseOracleReply extracts the outermost JSON object of a reply. An empty object is unusable.
func parseOracleReply(raw string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse classification json: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parse classification json: empty object")
	}
	return out, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

func marshalUnescaped(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
