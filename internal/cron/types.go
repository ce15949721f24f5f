package cron

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schedule kinds.
const (
	KindCron  = "cron"  // six-field expression with seconds
	KindEvery = "every" // fixed interval in EveryMs
	KindAt    = "at"    // one shot at AtMs
)

// Job outcomes recorded in JobState.LastStatus.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload is the directive a job runs. Verb and Arg are dispatched exactly
// as if typed by an operator; Channel and To name where the reply goes when
// Deliver is set.
type Payload struct {
	Verb    string `json:"verb"`
	Arg     string `json:"arg,omitempty"`
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// Directive renders the payload as a slash command.
func (p Payload) Directive() string {
	if p.Arg == "" {
		return "/" + p.Verb
	}
	return "/" + p.Verb + " " + p.Arg
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// due reports whether a tick-driven job should fire at now.
func (j *CronJob) due(now int64) bool {
	if !j.Enabled {
		return false
	}
	switch j.Schedule.Kind {
	case KindEvery:
		return j.Schedule.EveryMs > 0 && now >= j.State.LastRunAtMs+j.Schedule.EveryMs
	case KindAt:
		return j.Schedule.AtMs > 0 && now >= j.Schedule.AtMs
	}
	return false
}

func (s Schedule) validate() error {
	switch s.Kind {
	case KindCron:
		if s.Expr == "" {
			return fmt.Errorf("cron schedule needs an expression")
		}
	case KindEvery:
		if s.EveryMs <= 0 {
			return fmt.Errorf("every schedule needs a positive interval")
		}
	case KindAt:
		if s.AtMs <= 0 {
			return fmt.Errorf("at schedule needs a timestamp")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}
