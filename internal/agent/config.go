package agent

import (
	"github.com/raysh454/proctor/internal/confirm"
	"github.com/raysh454/proctor/internal/debounce"
	"github.com/raysh454/proctor/internal/detect"
	"github.com/raysh454/proctor/internal/reporter"
	"github.com/raysh454/proctor/internal/retry"
	"github.com/raysh454/proctor/internal/sampler"
	"github.com/raysh454/proctor/internal/syncq"
)

// Config gathers everything the client side of an attempt needs.
type Config struct {
	Debounce debounce.Config `mapstructure:"debounce"`
	Confirm  confirm.Config  `mapstructure:"confirm"`
	Reporter reporter.Config `mapstructure:"reporter"`
	Sampler  sampler.Config  `mapstructure:"sampler"`
	Detect   detect.Config   `mapstructure:"detect"`
	SyncQ    syncq.Config    `mapstructure:"syncq"`

	// QueuePath is the SQLite file backing the offline queue. Empty keeps
	// the queue in memory.
	QueuePath string `mapstructure:"queue_path"`

	// Reconnect governs re-dialling the push channel.
	Reconnect retry.Policy `mapstructure:"reconnect"`
}

func DefaultConfig() Config {
	return Config{
		Debounce:  debounce.DefaultConfig(),
		Confirm:   confirm.DefaultConfig(),
		Reporter:  reporter.DefaultConfig(),
		Sampler:   sampler.DefaultConfig(),
		Detect:    detect.DefaultConfig(),
		SyncQ:     syncq.DefaultConfig(),
		Reconnect: retry.DefaultPolicy(),
	}
}
