package scheduler

// ScheduleOff disables a job in Config.Jobs.
const ScheduleOff = "off"

// Config is the "scheduler" component section.
//
// Example YAML:
//
//	components:
//	  scheduler:
//	    health_check: "@every 15s"
//	    jobs:
//	      cache_purge: "*/5 * * * *"
type Config struct {
	// HealthCheck is the schedule of the kernel health sweep. "off" disables it.
	HealthCheck string `json:"health_check" yaml:"health_check" default:"@every 30s"`

	// Jobs overrides the default schedule of any job by name. "off" disables it.
	Jobs map[string]string `json:"jobs" yaml:"jobs"`
}
