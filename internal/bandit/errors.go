package bandit

import (
	"fmt"

	"github.com/alanyoungcy/chainbandit/internal/domain"
)

// ConfigurationError reports an engine constructed or driven with invalid
// settings: an empty or duplicate roster, or a decay factor outside (0,1].
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return "bandit: configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// InvalidParameterError reports a distribution parameter that would make a
// sampler return NaN or Inf. It usually means the arm store holds a
// corrupted row.
type InvalidParameterError struct {
	Param string
	Value float64
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("bandit: invalid parameter %s=%v: must be finite and > 0", e.Param, e.Value)
}

func configErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func unknownChainError(chain string) *ConfigurationError {
	return &ConfigurationError{
		Reason: fmt.Sprintf("chain %q is not in the roster", chain),
		Err:    domain.ErrUnknownChain,
	}
}
