package contract

import "encoding/json"

// Aggregation declares how the leaderboard ranks models each cycle.
type Aggregation struct {
	Windows          []int  `json:"windows,omitempty"`
	RankingKey       string `json:"ranking_key"`
	RankingDirection string `json:"ranking_direction"` // "asc" | "desc"
}

// EnsembleConfig declares one virtual ensemble model.
type EnsembleConfig struct {
	Name         string `json:"name"`
	Strategy     string `json:"strategy"` // "inverse_variance" | "equal_weight"
	ModelFilter  string `json:"model_filter,omitempty"` // e.g. "top_n(5)", "min_metric(ic,0.02)"
}

// Config is the single configuration object declaring the competition's
// shapes, aggregation, metrics, and ensembles. Workers read it at startup;
// it is never mutated at runtime.
type Config struct {
	RawInputType         json.RawMessage  `json:"raw_input_type"`
	InferenceInputType    json.RawMessage  `json:"inference_input_type"`
	InferenceOutputType   json.RawMessage  `json:"inference_output_type"`
	ScoreType             json.RawMessage  `json:"score_type"`
	Scope                 ScopeDecl        `json:"scope"`
	Aggregation           Aggregation      `json:"aggregation"`
	Metrics               []string         `json:"metrics"`
	Ensembles             []EnsembleConfig `json:"ensembles"`
}

// ScopeDecl names the tuple identifying a prediction configuration (glossary:
// "Scope"), primarily (subject, horizon_seconds, step_seconds).
type ScopeDecl struct {
	Subject       string `json:"subject"`
	HorizonSeconds int   `json:"horizon_seconds"`
	StepSeconds    int   `json:"step_seconds"`
}

// Shapes compiles the four declared shapes into validators, once, at startup.
type Shapes struct {
	RawInput         *Shape
	InferenceInput   *Shape
	InferenceOutput  *Shape
	Score            *Shape
}

// CompileShapes compiles every declared shape in cfg.
func CompileShapes(cfg Config) (*Shapes, error) {
	rawInput, err := NewShape("raw_input_type", cfg.RawInputType)
	if err != nil {
		return nil, err
	}
	inferenceInput, err := NewShape("inference_input_type", cfg.InferenceInputType)
	if err != nil {
		return nil, err
	}
	inferenceOutput, err := NewShape("inference_output_type", cfg.InferenceOutputType)
	if err != nil {
		return nil, err
	}
	score, err := NewShape("score_type", cfg.ScoreType)
	if err != nil {
		return nil, err
	}
	return &Shapes{
		RawInput:        rawInput,
		InferenceInput:  inferenceInput,
		InferenceOutput: inferenceOutput,
		Score:           score,
	}, nil
}
