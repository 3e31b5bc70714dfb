package main

import (
	"encoding/hex"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/flare-foundation/signing-policy-relay/policy"
)

// policyFile is the TOML shape install-policy reads: a human-editable
// description of a SigningPolicy, encoded to wire bytes before submission.
type policyFile struct {
	RewardEpochId         uint32      `toml:"reward_epoch_id"`
	StartingVotingRoundId uint32      `toml:"starting_voting_round_id"`
	Threshold             uint16      `toml:"threshold"`
	RandomSeedHex         string      `toml:"random_seed"`
	Voters                []voterFile `toml:"voters"`
}

type voterFile struct {
	Address string `toml:"address"`
	Weight  uint16 `toml:"weight"`
}

func installPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install-policy",
		Short: "Encode a SigningPolicy TOML file into mode-1 genesis install calldata",
		RunE:  runInstallPolicy,
	}
	cmd.Flags().String("config", "", "path to the policy TOML file")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runInstallPolicy(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	var pf policyFile
	if _, err := toml.DecodeFile(configPath, &pf); err != nil {
		return fmt.Errorf("decode %s: %w", configPath, err)
	}

	p := &policy.Policy{
		RewardEpochId:         pf.RewardEpochId,
		StartingVotingRoundId: pf.StartingVotingRoundId,
		Threshold:             pf.Threshold,
		Voters:                make([]policy.Voter, len(pf.Voters)),
	}
	if pf.RandomSeedHex != "" {
		seed, err := hex.DecodeString(trimHexPrefix(pf.RandomSeedHex))
		if err != nil {
			return fmt.Errorf("decode random_seed: %w", err)
		}
		if len(seed) != len(p.RandomSeed) {
			return fmt.Errorf("random_seed must be %d bytes, got %d", len(p.RandomSeed), len(seed))
		}
		copy(p.RandomSeed[:], seed)
	}
	for i, v := range pf.Voters {
		if !common.IsHexAddress(v.Address) {
			return fmt.Errorf("voter %d: invalid address %q", i, v.Address)
		}
		p.Voters[i] = policy.Voter{Address: common.HexToAddress(v.Address), Weight: v.Weight}
	}

	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	wire := policy.Encode(p)
	fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(wire))
	return nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
