package estimator

import (
	"fmt"
	"math"

	telemetry "greenhouse-brain/internal/telemetry/domain"
)

// Magnus coefficients: 6.112 hPa expressed in kPa.
const (
	magnusA = 0.6112
	magnusB = 17.67
	magnusC = 243.5
)

// VPD returns the vapor pressure deficit in kPa using the Magnus approximation.
func VPD(airTempC, relativeHumidityPct float64) (float64, error) {
	if !finite(airTempC) || !finite(relativeHumidityPct) {
		return 0, fmt.Errorf("%w: vpd inputs not finite", telemetry.ErrInvalidInput)
	}
	if relativeHumidityPct < 0 || relativeHumidityPct > 100 {
		return 0, fmt.Errorf("%w: relative humidity %.2f outside [0, 100]", telemetry.ErrInvalidInput, relativeHumidityPct)
	}
	if airTempC < telemetry.MinTemperatureC || airTempC > telemetry.MaxTemperatureC {
		return 0, fmt.Errorf("%w: air temperature %.2f outside [%g, %g]", telemetry.ErrInvalidInput, airTempC, telemetry.MinTemperatureC, telemetry.MaxTemperatureC)
	}
	saturation := magnusA * math.Exp((magnusB*airTempC)/(airTempC+magnusC))
	vpd := saturation * (1 - relativeHumidityPct/100)
	return math.Max(0, vpd), nil
}

// LeafAirDelta returns leaf minus air temperature.
func LeafAirDelta(leafTempC, airTempC float64) (float64, error) {
	if !finite(leafTempC) || !finite(airTempC) {
		return 0, fmt.Errorf("%w: leaf/air temperature not finite", telemetry.ErrInvalidInput)
	}
	return leafTempC - airTempC, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
