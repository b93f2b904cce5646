package entity

type Phase string

const (
	PhaseTrain Phase = "train"
	PhaseVal   Phase = "val"
)

// PhaseResult summarises one pass over a dataset.
type PhaseResult struct {
	Epoch          int
	Phase          Phase
	CorrectActions int
	CorrectScenes  int
	DatasetSize    int
	ActionAccuracy float64
	SceneAccuracy  float64
}
