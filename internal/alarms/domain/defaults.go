package alarms

import estimator "greenhouse-brain/internal/estimator/domain"

// DefaultRules returns the calibrated rule table.
func DefaultRules() []AnomalyRule {
	return []AnomalyRule{
		{
			Type: TypeSoilMoistureLow, Metric: MetricEachSoilProbe,
			Operator: OperatorLess, Threshold: 10, DurationSeconds: 5 * 60,
			Severity:    SeverityError,
			Escalations: []Escalation{{Threshold: 5, Severity: SeverityCrit}},
			Responses:   []string{ResponseIncreaseSampling, ResponseNotify, ResponseIrrigate},
		},
		{
			Type: TypeSoilMoistureHigh, Metric: MetricEachSoilProbe,
			Operator: OperatorGreater, Threshold: 85, DurationSeconds: 10 * 60,
			Severity:  SeverityWarn,
			Responses: []string{ResponseReduceIrrigation, ResponseIncreaseVentilation},
		},
		{
			Type: TypeSoilMoistureDifferential, Metric: string(estimator.MetricSoilDifferential),
			Operator: OperatorGreater, Threshold: 40, DurationSeconds: 15 * 60,
			Severity:  SeverityWarn,
			Responses: []string{ResponseInspectProbes},
		},
		{
			Type: TypeVPDHigh, Metric: string(estimator.MetricVPD),
			Operator: OperatorGreater, Threshold: 3.5, DurationSeconds: 20 * 60,
			Severity:    SeverityError,
			Escalations: []Escalation{{Threshold: 4.5, Severity: SeverityCrit}},
			Responses:   []string{ResponseIncreaseSampling, ResponseNotify, ResponseRaiseHumidity},
		},
		{
			Type: TypeVPDLow, Metric: string(estimator.MetricVPD),
			Operator: OperatorLess, Threshold: 0.2, DurationSeconds: 30 * 60,
			Severity:  SeverityWarn,
			Responses: []string{ResponseIncreaseVentilation},
		},
		{
			Type: TypeTemperatureLow, Metric: string(estimator.MetricAirTemperature),
			Operator: OperatorLess, Threshold: 8, DurationSeconds: 20 * 60,
			Severity:    SeverityError,
			Escalations: []Escalation{{Threshold: 4, Severity: SeverityCrit}},
			Responses:   []string{ResponseIncreaseSampling, ResponseNotify, ResponseHeat},
		},
		{
			Type: TypeTemperatureHigh, Metric: string(estimator.MetricAirTemperature),
			Operator: OperatorGreater, Threshold: 32, DurationSeconds: 20 * 60,
			Severity:    SeverityError,
			Escalations: []Escalation{{Threshold: 38, Severity: SeverityCrit}},
			Responses:   []string{ResponseIncreaseSampling, ResponseNotify, ResponseCool},
		},
		{
			Type: TypeTemperatureRate, Metric: string(estimator.MetricAirTemperature),
			Kind: KindRate, Threshold: 3, WindowSeconds: 10 * 60, Direction: DirectionAny,
			Severity:  SeverityWarn,
			Responses: []string{ResponseIncreaseSampling},
		},
		{
			Type: TypeSoilMoistureDrop, Metric: MetricEachSoilProbe,
			Kind: KindRate, Threshold: 5, WindowSeconds: 30 * 60, Direction: DirectionDrop,
			Severity:  SeverityWarn,
			Responses: []string{ResponseIncreaseSampling, ResponseInspectIrrigation},
		},
	}
}
