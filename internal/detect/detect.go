// Package detect turns raw browser-side signals (visibility, focus,
// fullscreen, clipboard, keystrokes, network address) into violation
// reports. The host feeds events in; every detector reports through a
// Reporter, which handles debouncing and delivery.
package detect

import (
	"time"

	"github.com/raysh454/proctor/internal/model"
)

// Reporter is the sink for detected violations. *reporter.Reporter
// satisfies it.
type Reporter interface {
	Report(kind model.Kind, sev model.Severity, message string, ev model.Evidence) bool
}

type Config struct {
	// TabHiddenMin is how long the page must stay hidden to count as a
	// tab switch.
	TabHiddenMin time.Duration `mapstructure:"tab_hidden_min"`
	// PasteMinChars is the paste length above which a paste is reported.
	PasteMinChars int `mapstructure:"paste_min_chars"`
	// TypingWindow is how many inter-key intervals are averaged.
	TypingWindow int `mapstructure:"typing_window"`
	// TypingMinKeys is the sample size required before judging speed.
	TypingMinKeys int `mapstructure:"typing_min_keys"`
	// TypingMaxAvg is the average interval below which typing is flagged.
	TypingMaxAvg time.Duration `mapstructure:"typing_max_avg"`
	// RapidChangeChars is the answer-length jump that counts as one rapid
	// change; more than RapidChangeMax of them is reported.
	RapidChangeChars int `mapstructure:"rapid_change_chars"`
	RapidChangeMax   int `mapstructure:"rapid_change_max"`
	// IPInterval is the period of the network address check.
	IPInterval time.Duration `mapstructure:"ip_interval"`
}

func DefaultConfig() Config {
	return Config{
		TabHiddenMin:     2 * time.Second,
		PasteMinChars:    50,
		TypingWindow:     50,
		TypingMinKeys:    20,
		TypingMaxAvg:     30 * time.Millisecond,
		RapidChangeChars: 100,
		RapidChangeMax:   2,
		IPInterval:       2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TabHiddenMin <= 0 {
		c.TabHiddenMin = def.TabHiddenMin
	}
	if c.PasteMinChars <= 0 {
		c.PasteMinChars = def.PasteMinChars
	}
	if c.TypingWindow <= 0 {
		c.TypingWindow = def.TypingWindow
	}
	if c.TypingMinKeys <= 0 {
		c.TypingMinKeys = def.TypingMinKeys
	}
	if c.TypingMaxAvg <= 0 {
		c.TypingMaxAvg = def.TypingMaxAvg
	}
	if c.RapidChangeChars <= 0 {
		c.RapidChangeChars = def.RapidChangeChars
	}
	if c.RapidChangeMax <= 0 {
		c.RapidChangeMax = def.RapidChangeMax
	}
	if c.IPInterval <= 0 {
		c.IPInterval = def.IPInterval
	}
	return c
}
