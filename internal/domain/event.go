package domain

import "time"

// EventKind names a bandit lifecycle event.
type EventKind string

const (
	EventInit          EventKind = "init"
	EventDecision      EventKind = "decision"
	EventUpdate        EventKind = "update"
	EventUpdateIgnored EventKind = "update_ignored"
	EventReset         EventKind = "reset"
	EventDecay         EventKind = "decay"
)

// ChainSample is one chain's draw during a decision.
type ChainSample struct {
	Chain string  `json:"chain"`
	Value float64 `json:"value"`
}

// Event is a structured record of something the bandit did. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind     EventKind `json:"kind"`
	Strategy string    `json:"strategy"`
	At       time.Time `json:"at"`

	// init
	Chains []string `json:"chains,omitempty"`

	// decision
	Chosen     string        `json:"chosen,omitempty"`
	Samples    []ChainSample `json:"samples,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`

	// update, update_ignored, reset
	Chain            string   `json:"chain,omitempty"`
	Success          bool     `json:"success"`
	Reward           *float64 `json:"reward,omitempty"`
	NewAlpha         float64  `json:"new_alpha,omitempty"`
	NewBeta          float64  `json:"new_beta,omitempty"`
	EstimatedWinRate float64  `json:"estimated_win_rate,omitempty"`

	// decay
	Factor float64 `json:"factor,omitempty"`
}
