package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// RuleConfig describes one traffic rule: the context signal that trips it,
// the violation type it produces, and its dedup cooldown. Priority orders
// candidate emission when several rules fire on one reading.
type RuleConfig struct {
	RuleID          string   `mapstructure:"rule_id"`
	ViolationType   string   `mapstructure:"violation_type"`
	Signal          string   `mapstructure:"signal"`
	MinSpeedKPH     *float64 `mapstructure:"min_speed_kph"`
	Priority        int      `mapstructure:"priority"`
	CooldownSeconds int      `mapstructure:"cooldown_seconds"`
}

func (r RuleConfig) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// ScheduleVersionConfig is one immutable version of the fine schedule.
// Versions are appended, never overwritten, so past violations stay
// reproducible. EffectiveFrom is RFC3339; parsed when the calculator loads.
type ScheduleVersionConfig struct {
	Version       int              `mapstructure:"version"`
	EffectiveFrom string           `mapstructure:"effective_from"`
	Amounts       map[string]int64 `mapstructure:"amounts"`
}

type RuleSetConfig struct {
	Rules     []RuleConfig            `mapstructure:"rules"`
	Schedules []ScheduleVersionConfig `mapstructure:"fine_schedules"`
}

// LoadRuleSet reads the rule set and fine schedules from a YAML file, or
// returns the built-in defaults when no path is configured.
func LoadRuleSet(path string) (*RuleSetConfig, error) {
	if path == "" {
		return defaultRuleSet(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}

	var rs RuleSetConfig
	if err := v.Unmarshal(&rs); err != nil {
		return nil, fmt.Errorf("unmarshal rules file %s: %w", path, err)
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}
	if len(rs.Schedules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no fine schedules", path)
	}
	return &rs, nil
}

func defaultRuleSet() *RuleSetConfig {
	speedLimit := 60.0
	return &RuleSetConfig{
		Rules: []RuleConfig{
			{RuleID: "no-helmet", ViolationType: "NO_HELMET", Signal: "helmet_absent", Priority: 1, CooldownSeconds: 3600},
			{RuleID: "signal-jump", ViolationType: "SIGNAL_JUMP", Signal: "signal_red", Priority: 2, CooldownSeconds: 600},
			{RuleID: "no-seatbelt", ViolationType: "NO_SEATBELT", Signal: "seatbelt_absent", Priority: 3, CooldownSeconds: 3600},
			{RuleID: "overspeeding", ViolationType: "OVERSPEEDING", MinSpeedKPH: &speedLimit, Priority: 4, CooldownSeconds: 900},
		},
		Schedules: []ScheduleVersionConfig{
			{
				Version:       1,
				EffectiveFrom: "2024-01-01T00:00:00Z",
				Amounts: map[string]int64{
					"NO_HELMET":    500,
					"SIGNAL_JUMP":  1000,
					"NO_SEATBELT":  500,
					"OVERSPEEDING": 1500,
				},
			},
		},
	}
}
