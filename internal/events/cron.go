package events

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/metasync/metasync/internal/metadata"
	"github.com/metasync/metasync/internal/resource"
)

// CronTrigger is a webhook fired on a five-field cron schedule.
type CronTrigger struct {
	Name     string         `yaml:"name"`
	Webhook  string         `yaml:"webhook"`
	Schedule string         `yaml:"schedule"`
	Payload  map[string]any `yaml:"payload,omitempty"`
	Headers  []Header       `yaml:"headers,omitempty"`
	Retry    *RetryConf     `yaml:"retry,omitempty"`
	Comment  string         `yaml:"comment,omitempty"`
}

func (c CronTrigger) validate() error {
	if c.Name == "" {
		return fmt.Errorf("cron trigger without name")
	}
	if c.Webhook == "" {
		return fmt.Errorf("cron trigger %s: webhook is required", c.Name)
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("cron trigger %s: schedule %q: %w", c.Name, c.Schedule, err)
	}
	return validateHeaders("cron trigger "+c.Name, c.Headers)
}

type cronRetryConf struct {
	NumRetries           int `json:"num_retries"`
	RetryIntervalSeconds int `json:"retry_interval_seconds"`
	TimeoutSeconds       int `json:"timeout_seconds"`
}

type cronArgs struct {
	Name              string         `json:"name"`
	Webhook           string         `json:"webhook"`
	Schedule          string         `json:"schedule"`
	Payload           map[string]any `json:"payload,omitempty"`
	Headers           []Header       `json:"headers,omitempty"`
	RetryConf         *cronRetryConf `json:"retry_conf,omitempty"`
	Comment           string         `json:"comment,omitempty"`
	IncludeInMetadata bool           `json:"include_in_metadata"`
	Replace           bool           `json:"replace,omitempty"`
}

func (c CronTrigger) args(replace bool) cronArgs {
	a := cronArgs{
		Name:              c.Name,
		Webhook:           c.Webhook,
		Schedule:          c.Schedule,
		Payload:           c.Payload,
		Headers:           c.Headers,
		Comment:           c.Comment,
		IncludeInMetadata: true,
		Replace:           replace,
	}
	if c.Retry != nil {
		a.RetryConf = &cronRetryConf{
			NumRetries:           c.Retry.NumRetries,
			RetryIntervalSeconds: c.Retry.IntervalSec,
			TimeoutSeconds:       c.Retry.TimeoutSec,
		}
	}
	return a
}

func (m *Manager) cronTrigger(c CronTrigger) *resource.MetadataObject {
	return &resource.MetadataObject{
		Runner: m.md,
		Name:   fmt.Sprintf("cron trigger %s", c.Name),
		Present: func(doc *metadata.Document) bool {
			return doc.CronTrigger(c.Name) != nil
		},
		CreateReq: metadata.Request{Type: metadata.OpCreateCronTrigger, Args: c.args(false)},
		DropReq: func(bool) metadata.Request {
			return metadata.Request{
				Type: metadata.OpDeleteCronTrigger,
				Args: map[string]string{"name": c.Name},
			}
		},
		ReplaceReqs: []metadata.Request{{Type: metadata.OpCreateCronTrigger, Args: c.args(true)}},
	}
}

// CreateCronTrigger registers a scheduled webhook; it fails if the name is
// taken. Unparseable schedules are rejected without a remote call.
func (m *Manager) CreateCronTrigger(ctx context.Context, c CronTrigger) (*resource.Outcome, error) {
	if err := c.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Create(ctx, m.cronTrigger(c))
}

func (m *Manager) DefineCronTrigger(ctx context.Context, c CronTrigger) (*resource.Outcome, error) {
	if err := c.validate(); err != nil {
		return resource.Invalid("%v", err), nil
	}
	return m.drv.Define(ctx, m.cronTrigger(c))
}

func (m *Manager) DeleteCronTrigger(ctx context.Context, name string) (*resource.Outcome, error) {
	return m.drv.Delete(ctx, m.cronTrigger(CronTrigger{Name: name}))
}
