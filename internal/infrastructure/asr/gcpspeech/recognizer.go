package gcpspeech

import (
	"context"
	"fmt"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/asr"
)

type Config struct {
	CredentialsFile string
	LanguageCode    string
	Model           string
}

type recognizeFunc func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)

// Recognizer sends 16 kHz mono LINEAR16 audio to Google Cloud Speech.
type Recognizer struct {
	cfg       Config
	recognize recognizeFunc
	close     func() error
}

// Factory dials the Speech API; credentials come from the file when set, otherwise from the
// application default chain.
func Factory(cfg Config) asr.Factory {
	return func(ctx context.Context) (asr.Model, error) {
		return New(ctx, cfg)
	}
}

func New(ctx context.Context, cfg Config) (*Recognizer, error) {
	opts := make([]option.ClientOption, 0, 1)
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return newRecognizer(cfg, func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	}, client.Close), nil
}

func newRecognizer(cfg Config, recognize recognizeFunc, closeFn func() error) *Recognizer {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "pt-BR"
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &Recognizer{cfg: cfg, recognize: recognize, close: closeFn}
}

func (r *Recognizer) Close() error { return r.close() }

func (r *Recognizer) Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("read audio: %w", err)
	}

	resp, err := r.recognize(ctx, r.request(audio))
	if err != nil {
		return domain.Transcript{}, domain.WrapError(domain.ErrTemporary, "speech longrunningrecognize", err)
	}
	return parseResponse(resp, r.cfg.LanguageCode), nil
}

func (r *Recognizer) request(audio []byte) *speechpb.LongRunningRecognizeRequest {
	return &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            16000,
			AudioChannelCount:          1,
			LanguageCode:               languageCode(r.cfg.LanguageCode),
			Model:                      r.cfg.Model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}
}

// parseResponse turns each result into one segment spanning from the previous result end.
func parseResponse(resp *speechpb.LongRunningRecognizeResponse, language string) domain.Transcript {
	transcript := domain.Transcript{Language: shortLanguage(language), Segments: []domain.Segment{}}
	if resp == nil {
		return transcript
	}

	var start float64
	for _, result := range resp.GetResults() {
		end := result.GetResultEndTime().AsDuration().Seconds()
		alts := result.GetAlternatives()
		if len(alts) == 0 || alts[0] == nil {
			start = end
			continue
		}
		transcript.Segments = append(transcript.Segments, domain.Segment{
			Start: start,
			End:   end,
			Text:  strings.TrimSpace(alts[0].GetTranscript()),
		})
		if code := result.GetLanguageCode(); code != "" {
			transcript.Language = shortLanguage(code)
		}
		start = end
	}
	transcript.Duration = start
	return transcript
}

// languageCode expands the short whisper-style hint ("pt") to a BCP-47 code.
func languageCode(code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "", "pt":
		return "pt-BR"
	case "en":
		return "en-US"
	case "es":
		return "es-ES"
	default:
		return code
	}
}

func shortLanguage(code string) string {
	base, _, _ := strings.Cut(strings.ToLower(code), "-")
	return base
}
