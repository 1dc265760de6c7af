package domain

type PipelineState string

const (
	StateCreated         PipelineState = "created"
	StateOCRPending      PipelineState = "ocr_pending"
	StateOCRDone         PipelineState = "ocr_done"
	StateOCRFailed       PipelineState = "ocr_failed"
	StateASRPending      PipelineState = "asr_pending"
	StateASRDone         PipelineState = "asr_done"
	StateASRFailed       PipelineState = "asr_failed"
	StateClassifyPending PipelineState = "classify_pending"
	StateClassifyDone    PipelineState = "classify_done"
	StateClassifyFailed  PipelineState = "classify_failed"
)

type StageName string

const (
	StageNameOCR            StageName = "ocr"
	StageNameTranscription  StageName = "transcription"
	StageNameClassification StageName = "classification"
)

// StageStates returns the pending, done and failed states of a stage.
func StageStates(stage StageName) (pending, done, failed PipelineState) {
	switch stage {
	case StageNameOCR:
		return StateOCRPending, StateOCRDone, StateOCRFailed
	case StageNameTranscription:
		return StateASRPending, StateASRDone, StateASRFailed
	default:
		return StateClassifyPending, StateClassifyDone, StateClassifyFailed
	}
}

type StageOutcome struct {
	Stage StageName     `json:"stage"`
	State PipelineState `json:"state"`
	Error string        `json:"error,omitempty"`
}

// PipelineReport summarizes one run of the three stages for a submission.
type PipelineReport struct {
	SubmissionID string         `json:"submission_id"`
	Stages       []StageOutcome `json:"stages"`
	FinalState   PipelineState  `json:"final_state"`
}

func (r PipelineReport) Failed(stage StageName) bool {
	for _, outcome := range r.Stages {
		if outcome.Stage == stage {
			return outcome.Error != ""
		}
	}
	return false
}
