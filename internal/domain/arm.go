package domain

import "time"

// PriorAlpha and PriorBeta are the Beta prior every arm starts from and is
// reset or decayed toward. Beta(2,2) is symmetric and mildly informative.
const (
	PriorAlpha = 2.0
	PriorBeta  = 2.0
)

// Arm is the current Beta(Alpha, Beta) belief about a chain's profitability.
// Alpha and Beta are always strictly positive.
type Arm struct {
	Chain string  `json:"chain"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// PriorArm returns the default arm for a chain that has no stored state.
func PriorArm(chain string) Arm {
	return Arm{Chain: chain, Alpha: PriorAlpha, Beta: PriorBeta}
}

// WinRate is the posterior mean alpha/(alpha+beta).
func (a Arm) WinRate() float64 {
	return a.Alpha / (a.Alpha + a.Beta)
}

// ArmRecord is an Arm as persisted by an ArmStore, with the time of its last
// write.
type ArmRecord struct {
	Arm
	UpdatedAt time.Time `json:"updated_at"`
}

// ArmState is the read-only snapshot returned by a strategy for one chain.
// For strategies without a Beta posterior (UCB1) Alpha and Beta are zero and
// EstimatedWinRate carries the running mean reward.
type ArmState struct {
	Chain            string  `json:"chain"`
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
	EstimatedWinRate float64 `json:"estimated_win_rate"`
	Confidence       float64 `json:"confidence"`
	Pulls            int64   `json:"pulls,omitempty"`
}

// Decision records one chain selection.
type Decision struct {
	// Seq numbers an engine's decisions from 1. It keeps counting across
	// history trimming and ResetAll.
	Seq              uint64    `json:"seq"`
	Chain            string    `json:"chain"`
	SampledValue     float64   `json:"sampled_value"`
	Confidence       float64   `json:"confidence"`
	ExplorationRatio float64   `json:"exploration_ratio"`
	DecidedAt        time.Time `json:"decided_at"`
}

// Outcome is the result of one trade attempt on a chain, fed back to a
// strategy. Reward is optional; nil means no magnitude was observed.
type Outcome struct {
	Chain   string   `json:"chain"`
	Success bool     `json:"success"`
	Reward  *float64 `json:"reward,omitempty"`
}

// Reward returns a pointer to v, for building Outcomes inline.
func Reward(v float64) *float64 {
	return &v
}
