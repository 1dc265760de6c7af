package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	CategoryOther    = "outros"
	PriorityLow      = "baixa"
	SentimentNeutral = "neutro"

	FallbackTag     = "falha_ia"
	FallbackSummary = "Não foi possível classificar automaticamente agora."

	DefaultMaxTags    = 12
	DefaultMaxSummary = 220
	DefaultConfidence = 50

	maxTagChars      = 60
	maxKeyPoints     = 6
	maxMissingData   = 10
	maxNotesChars    = 240
	maxListItemChars = 300
)

// Categories is the closed set a classification may land in.
var Categories = []string{
	"pavimentacao", "iluminacao_publica", "limpeza_urbana", "transporte",
	"seguranca", "saude", "educacao", "meio_ambiente", "ruido",
	"denuncia", "sugestao", "reclamacao", "elogio", "informacao", "outros",
}

var Priorities = []string{"baixa", "media", "alta", "critica"}

var Sentiments = []string{"negativo", "neutro", "positivo"}

var (
	categorySet = toSet(Categories)

	prioritySynonyms = map[string]string{
		"baixa": "baixa", "low": "baixa",
		"media": "media", "medium": "media",
		"alta": "alta", "high": "alta",
		"critica": "critica", "critical": "critica",
	}
	sentimentSynonyms = map[string]string{
		"negativo": "negativo", "negative": "negativo",
		"neutro": "neutro", "neutral": "neutro",
		"positivo": "positivo", "positive": "positivo",
	}
)

// Classification is the normalized triage output. Every field always holds a valid value.
type Classification struct {
	Category      string   `json:"category"`
	Priority      string   `json:"priority"`
	Tags          []string `json:"tags"`
	Summary       string   `json:"summary"`
	Sentiment     string   `json:"sentiment"`
	Confidence    int      `json:"confidence"`
	KeyPoints     []string `json:"key_points"`
	NeedsMoreData bool     `json:"needs_more_data"`
	MissingData   []string `json:"missing_data"`
	Notes         string   `json:"notes,omitempty"`
}

// ClassificationLimits bounds the free-form fields of a classification.
type ClassificationLimits struct {
	MaxTags    int
	MaxSummary int
}

func (l ClassificationLimits) withDefaults() ClassificationLimits {
	if l.MaxTags <= 0 {
		l.MaxTags = DefaultMaxTags
	}
	if l.MaxSummary <= 0 {
		l.MaxSummary = DefaultMaxSummary
	}
	return l
}

// FallbackClassification is substituted whenever the oracle fails or replies with nothing usable.
func FallbackClassification(evidenceEmpty bool, cause error) Classification {
	out := Classification{
		Category:      CategoryOther,
		Priority:      PriorityLow,
		Tags:          []string{FallbackTag},
		Summary:       FallbackSummary,
		Sentiment:     SentimentNeutral,
		Confidence:    0,
		KeyPoints:     []string{},
		NeedsMoreData: evidenceEmpty,
		MissingData:   []string{},
	}
	if evidenceEmpty {
		out.MissingData = []string{"texto", "imagem/áudio/vídeo com conteúdo legível"}
	}
	if cause != nil {
		out.Notes = Head(cause.Error(), maxNotesChars)
	}
	return out
}

// NormalizeClassification turns an untrusted model reply into a Classification. English keys win
// over their Portuguese aliases when both are present.
func NormalizeClassification(raw map[string]any, evidenceEmpty bool, limits ClassificationLimits) Classification {
	limits = limits.withDefaults()

	out := Classification{
		Category:      NormalizeCategory(stringField(pick(raw, "category", "categoria"))),
		Priority:      NormalizePriority(stringField(pick(raw, "priority", "prioridade"))),
		Tags:          normalizeTags(pick(raw, "tags"), limits.MaxTags),
		Summary:       Truncate(stringField(pick(raw, "summary", "resumo_curto", "resumo")), limits.MaxSummary),
		Sentiment:     NormalizeSentiment(stringField(pick(raw, "sentiment", "sentimento"))),
		Confidence:    ClampConfidence(pick(raw, "confidence", "confianca")),
		KeyPoints:     stringList(pick(raw, "key_points", "pontos_chave"), maxKeyPoints, false),
		NeedsMoreData: boolField(pick(raw, "needs_more_data", "necessita_mais_dados")),
		MissingData:   stringList(pick(raw, "missing_data", "dados_faltantes"), maxMissingData, false),
		Notes:         Head(strings.TrimSpace(stringField(pick(raw, "notes", "observacoes"))), maxNotesChars),
	}
	if evidenceEmpty {
		out.NeedsMoreData = true
	}
	return out
}

// FoldKey lowercases, strips accents and turns separators into underscores.
func FoldKey(value string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), value)
	if err != nil {
		folded = value
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
}

func NormalizeCategory(value string) string {
	key := FoldKey(value)
	if _, ok := categorySet[key]; ok {
		return key
	}
	return CategoryOther
}

func NormalizePriority(value string) string {
	if mapped, ok := prioritySynonyms[FoldKey(value)]; ok {
		return mapped
	}
	return PriorityLow
}

func NormalizeSentiment(value string) string {
	if mapped, ok := sentimentSynonyms[FoldKey(value)]; ok {
		return mapped
	}
	return SentimentNeutral
}

// ClampConfidence accepts numbers and numeric strings; anything else yields the default.
func ClampConfidence(value any) int {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return DefaultConfidence
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return DefaultConfidence
		}
		n = parsed
	default:
		return DefaultConfidence
	}
	if math.IsNaN(n) {
		return DefaultConfidence
	}
	n = math.Trunc(n)
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return int(n)
}

func normalizeTags(value any, maxTags int) []string {
	tags := stringList(value, 0, true)
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, Head(tag, maxTagChars))
		if len(out) == maxTags {
			break
		}
	}
	return out
}

// stringList keeps non-empty string forms of list items; limit <= 0 means unbounded.
func stringList(value any, limit int, lower bool) []string {
	items, ok := value.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		s := strings.TrimSpace(stringField(item))
		if lower {
			s = strings.ToLower(s)
		}
		if s == "" {
			continue
		}
		out = append(out, Head(s, maxListItemChars))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func stringField(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func boolField(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		switch FoldKey(v) {
		case "true", "sim", "yes", "1":
			return true
		}
	}
	return false
}

func pick(raw map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := raw[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
