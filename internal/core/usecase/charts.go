package usecase

import (
	"math"
	"strings"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

const (
	chartFilesByType     = "arquivos_por_tipo"
	chartSizeByType      = "tamanho_por_tipo"
	chartEvidencePresent = "evidencias_presentes"

	unknownFileCategory = "desconhecido"
)

// DeriveCharts builds chart datasets from the submission files and the current result document.
// Categories keep the order in which they first appear.
func DeriveCharts(sub *domain.Submission, doc *domain.ResultDocument) []domain.ChartDataset {
	var (
		labels []string
		counts = map[string]float64{}
		sizes  = map[string]int64{}
	)
	if sub != nil {
		for _, file := range sub.Files {
			category := strings.ToLower(strings.TrimSpace(file.Category))
			if category == "" {
				category = unknownFileCategory
			}
			if _, seen := counts[category]; !seen {
				labels = append(labels, category)
			}
			counts[category]++
			sizes[category] += file.SizeBytes
		}
	}

	charts := make([]domain.ChartDataset, 0, 3)
	if len(labels) > 0 {
		countValues := make([]float64, 0, len(labels))
		sizeValues := make([]float64, 0, len(labels))
		for _, label := range labels {
			countValues = append(countValues, counts[label])
			sizeValues = append(sizeValues, megabytes(sizes[label]))
		}
		charts = append(charts,
			domain.ChartDataset{
				ID:     chartFilesByType,
				Kind:   "bar",
				Title:  "Arquivos por tipo (esta submission)",
				Labels: append([]string(nil), labels...),
				Values: countValues,
			},
			domain.ChartDataset{
				ID:     chartSizeByType,
				Kind:   "bar",
				Title:  "Tamanho total por tipo (MB) - esta submission",
				Labels: append([]string(nil), labels...),
				Values: sizeValues,
			},
		)
	}

	var citizenText string
	if sub != nil {
		citizenText = sub.Text
	}
	if doc == nil {
		doc = domain.NewResultDocument()
	}
	charts = append(charts, domain.ChartDataset{
		ID:     chartEvidencePresent,
		Kind:   "doughnut",
		Title:  "Evidências presentes (texto/OCR/ASR)",
		Labels: []string{"texto_digitado", "ocr", "asr"},
		Values: []float64{
			presence(citizenText),
			presence(doc.OCR().Text),
			presence(doc.Transcription().Summary),
		},
	})
	return charts
}

func megabytes(size int64) float64 {
	return math.Round(float64(size)/(1024*1024)*100) / 100
}

func presence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 1
}
