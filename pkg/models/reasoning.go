package models

// Strategy names a reasoning depth. Escalation only moves rightward:
// direct, then light, then deep.
type Strategy string

const (
	StrategyDirect Strategy = "direct"
	StrategyLight  Strategy = "light"
	StrategyDeep   Strategy = "deep"
)

// Next returns the strategy one escalation step up. Deep escalates to
// itself; it is the ceiling.
func (s Strategy) Next() Strategy {
	switch s {
	case StrategyDirect:
		return StrategyLight
	case StrategyLight:
		return StrategyDeep
	default:
		return StrategyDeep
	}
}

// Valid reports whether s is one of the defined strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyDirect, StrategyLight, StrategyDeep:
		return true
	}
	return false
}

// Complexity is the analyzer's classification of a query.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)
