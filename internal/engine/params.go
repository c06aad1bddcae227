package engine

// Rescaling and policy constants.
const (
	PercentDivisor     = 100.0 // Percent inputs are divided by this
	InfectionRateBoost = 2.0   // Applied after the percent division
	MaskFactor         = 0.1   // Transmission multiplier when a mask trial succeeds
)

// Parameters configures a run. They are immutable once a simulation starts.
// The core does not validate ranges; callers own input sanity.
type Parameters struct {
	Population    int     `json:"population" yaml:"population"`
	InfectionRate float64 `json:"infection_rate" yaml:"infection_rate"` // Percent; effective = input/100 × 2
	RecoveryTime  int     `json:"recovery_time" yaml:"recovery_time"`   // Days until an infected agent resolves
	MortalityRate float64 `json:"mortality_rate" yaml:"mortality_rate"` // Percent; effective = input/100

	SocialDistance        float64 `json:"social_distance" yaml:"social_distance"`     // Repulsion trigger radius
	MovementSpeed         float64 `json:"movement_speed" yaml:"movement_speed"`
	SocialActivity        float64 `json:"social_activity" yaml:"social_activity"`     // Probability an agent moves on a day
	ImmunityVariation     float64 `json:"immunity_variation" yaml:"immunity_variation"`
	InfectionRadius       float64 `json:"infection_radius" yaml:"infection_radius"`
	ViralLoadThreshold    float64 `json:"viral_load_threshold" yaml:"viral_load_threshold"` // Carried for clients; no rule reads it
	RecoveryImmunityBoost float64 `json:"recovery_immunity_boost" yaml:"recovery_immunity_boost"`
	MaskUsage             float64 `json:"mask_usage" yaml:"mask_usage"`             // Probability a transmission attempt is mask-mitigated
	VaccinationRate       float64 `json:"vaccination_rate" yaml:"vaccination_rate"` // Probability an agent starts immunity-boosted
}

// DefaultParameters returns the defaults for every optional knob. The four
// required fields use the values of the reference scenario.
func DefaultParameters() Parameters {
	return Parameters{
		Population:    100,
		InfectionRate: 10,
		RecoveryTime:  14,
		MortalityRate: 2,

		SocialDistance:        20.0,
		MovementSpeed:         5.0,
		SocialActivity:        0.5,
		ImmunityVariation:     0.2,
		InfectionRadius:       30.0,
		ViralLoadThreshold:    0.3,
		RecoveryImmunityBoost: 0.8,
		MaskUsage:             0.0,
		VaccinationRate:       0.0,
	}
}

// EffectiveInfectionRate is the per-contact base transmission probability.
func (p Parameters) EffectiveInfectionRate() float64 {
	return p.InfectionRate / PercentDivisor * InfectionRateBoost
}

// EffectiveMortalityRate is the base probability of death at resolution.
func (p Parameters) EffectiveMortalityRate() float64 {
	return p.MortalityRate / PercentDivisor
}
