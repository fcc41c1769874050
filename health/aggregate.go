package health

import "time"

// Aggregate folds reports into a snapshot. No reports means healthy.
func Aggregate(reports []Report) Aggregated {
	out := Aggregated{
		Health:      StatusHealthy,
		Readiness:   StatusHealthy,
		Reports:     reports,
		GeneratedAt: time.Now(),
	}
	if out.Reports == nil {
		out.Reports = []Report{}
	}

	for _, r := range reports {
		out.Health = Worst(out.Health, r.Status)
		if !r.Optional {
			out.Readiness = Worst(out.Readiness, r.Status)
		}
	}
	return out
}

// Worst returns the more severe status.
// Order: healthy < degraded < unhealthy < unknown.
func Worst(a, b Status) Status {
	if severity(a) >= severity(b) {
		return a
	}
	return b
}

func severity(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 3
	}
}
