package scoring

// Configuration is a versioned scoring configuration: main weights,
// per-muscle sub-weights and the RPE-to-effort mapping. Resolution order is
// session-pinned, then patient-current, then global default.
type Configuration struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Main          Weights            `json:"main_weights"`
	Muscle        MuscleWeights      `json:"muscle_weights"`
	RPEMapping    map[int]float64    `json:"rpe_mapping"`
	Active        bool               `json:"active"`
}

// DefaultConfiguration returns the global default scoring configuration.
// RPE 4-6 is the therapeutic target band and maps to full effort credit.
func DefaultConfiguration() Configuration {
	return Configuration{
		ID:     "default",
		Name:   "GHOSTLY+ default",
		Main:   DefaultWeights(),
		Muscle: DefaultMuscleWeights(),
		RPEMapping: map[int]float64{
			0: 0.2, 1: 0.4, 2: 0.6, 3: 0.8,
			4: 1.0, 5: 1.0, 6: 1.0,
			7: 0.8, 8: 0.6, 9: 0.4, 10: 0.2,
		},
		Active: true,
	}
}

// Validate checks both weight closures.
func (c Configuration) Validate() error {
	if err := ValidateWeights(c.Main); err != nil {
		return err
	}
	return ValidateMuscleWeights(c.Muscle)
}

// EffortScore maps an RPE value through the configured table. Values
// outside the table clamp to the nearest entry.
func (c Configuration) EffortScore(rpe int) float64 {
	if v, ok := c.RPEMapping[rpe]; ok {
		return v
	}
	if rpe < 0 {
		return c.RPEMapping[0]
	}
	return c.RPEMapping[10]
}

// Resolve picks the effective configuration: session-pinned wins over
// patient-current, which wins over the global default.
func Resolve(sessionPinned, patientCurrent *Configuration) Configuration {
	if sessionPinned != nil {
		return *sessionPinned
	}
	if patientCurrent != nil {
		return *patientCurrent
	}
	return DefaultConfiguration()
}
