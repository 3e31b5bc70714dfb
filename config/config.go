// Package config loads the relay node's configuration: the reward-epoch
// timing constants, registry admission limits, and burn-factor durations
// every other package consumes, plus the HTTP/metrics server bind
// addresses for cmd/relay.
//
// Values load from environment variables via envconfig, optionally
// overridden by a TOML file -- the same pairing the real Flare system
// client's own manifest uses (see other_examples/manifests/
// goal-eng-flare-system-client's go.mod: BurntSushi/toml alongside
// kelseyhightower/envconfig).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/flare-foundation/signing-policy-relay/relay"
	"github.com/flare-foundation/signing-policy-relay/weight"
)

// EnvPrefix is the prefix envconfig looks for, e.g. RELAY_MAX_VOTERS.
const EnvPrefix = "relay"

// Config bundles every configuration value named in spec.md §6's
// Configuration section plus the ambient HTTP/metrics server settings.
type Config struct {
	// MaxVoters caps the voter registry's admitted set per reward epoch.
	// Governance-mutable in the source; here, a restart-time setting.
	MaxVoters uint16 `envconfig:"MAX_VOTERS" toml:"max_voters" default:"100"`

	// WNatCapPPM bounds the wNat contribution to registration weight, in
	// parts per million of total wNat vote power.
	WNatCapPPM uint32 `envconfig:"WNAT_CAP_PPM" toml:"wnat_cap_ppm" default:"200000"`

	// FirstRewardEpochVotingRoundId and RewardEpochDurationInEpochs define
	// rewardEpochIdFromVotingRoundId (spec.md §4.2).
	FirstRewardEpochVotingRoundId uint64 `envconfig:"FIRST_REWARD_EPOCH_VOTING_ROUND_ID" toml:"first_reward_epoch_voting_round_id" default:"0"`
	RewardEpochDurationInEpochs   uint64 `envconfig:"REWARD_EPOCH_DURATION_IN_EPOCHS" toml:"reward_epoch_duration_in_epochs" default:"3600"`

	// ThresholdIncreasePercent scales the threshold required of a message
	// signed by the previous committee (spec.md §4.2, §6). Fixed at 120 in
	// the source; exposed here for test/alternate-network configurability.
	ThresholdIncreasePercent uint64 `envconfig:"THRESHOLD_INCREASE_PERCENT" toml:"threshold_increase_percent" default:"120"`

	// SigningPolicySignNonPunishableDurationSeconds and the two duration
	// constants below parameterize weight.BurnFactor (spec.md §4.3).
	SigningPolicySignNonPunishableDurationSeconds uint64 `envconfig:"SIGN_NON_PUNISHABLE_DURATION_SECONDS" toml:"sign_non_punishable_duration_seconds" default:"20"`
	SigningPolicySignNonPunishableDurationBlocks  uint64 `envconfig:"SIGN_NON_PUNISHABLE_DURATION_BLOCKS" toml:"sign_non_punishable_duration_blocks" default:"10"`
	SigningPolicySignNoRewardsDurationBlocks      uint64 `envconfig:"SIGN_NO_REWARDS_DURATION_BLOCKS" toml:"sign_no_rewards_duration_blocks" default:"10800"`

	// HTTPAddr and MetricsAddr are the ambient server bind addresses used by
	// cmd/relay serve.
	HTTPAddr    string `envconfig:"HTTP_ADDR" toml:"http_addr" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" toml:"metrics_addr" default:":9090"`

	// LogFile, if non-empty, directs cmd/relay serve's log output through a
	// rotating file sink instead of stderr.
	LogFile string `envconfig:"LOG_FILE" toml:"log_file" default:""`
}

// Load reads configuration from environment variables, then overlays
// values from a TOML file at path if path is non-empty. Environment
// variables take precedence over the file's un-set defaults only in the
// sense that envconfig populates the struct first; a present TOML key
// always overrides whatever envconfig produced for that field (this
// matches the source manifest's file-overlays-env convention for static
// per-deployment values like MaxVoters).
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}

	if path == "" {
		return &cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// RelayConfig projects the subset of Config that relay.Core needs.
func (c *Config) RelayConfig() relay.Config {
	return relay.Config{
		FirstRewardEpochVotingRoundId: c.FirstRewardEpochVotingRoundId,
		RewardEpochDurationInEpochs:   c.RewardEpochDurationInEpochs,
		ThresholdIncreasePercent:      c.ThresholdIncreasePercent,
	}
}

// BurnFactorConfig projects the subset of Config that weight.BurnFactor
// needs.
func (c *Config) BurnFactorConfig() weight.BurnFactorConfig {
	return weight.BurnFactorConfig{
		SignNonPunishableDurationSeconds: c.SigningPolicySignNonPunishableDurationSeconds,
		SignNonPunishableDurationBlocks:  c.SigningPolicySignNonPunishableDurationBlocks,
		SignNoRewardsDurationBlocks:      c.SigningPolicySignNoRewardsDurationBlocks,
	}
}
