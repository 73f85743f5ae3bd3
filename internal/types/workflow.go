package types

// Assessment is the risk agent's verdict on an experiment.
type Assessment struct {
	ExperimentID string   `json:"experiment_id"`
	RiskScore    float64  `json:"risk_score"` // 0-100, higher is riskier
	Band         RiskBand `json:"band"`
	Notes        string   `json:"notes,omitempty"`
}

// GrantDraft is the grant agent's funding memo for an experiment.
type GrantDraft struct {
	ExperimentID string  `json:"experiment_id"`
	Title        string  `json:"title"`
	Body         string  `json:"body"`
	Amount       float64 `json:"amount"`
	Approved     bool    `json:"approved"`
}
