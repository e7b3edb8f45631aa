package cli

import (
	"github.com/spf13/cobra"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/app"
)

var (
	snapshotEpoch  uint64
	snapshotSubmit bool
	verifyEpoch    uint64
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Generate, persist and optionally attest a snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Snapshot(cmd.Context(), app.SnapshotOptions{Epoch: snapshotEpoch, Submit: snapshotSubmit})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare a stored snapshot hash with the on-chain value",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Verify(cmd.Context(), verifyEpoch)
	},
}

func init() {
	snapshotCmd.Flags().Uint64Var(&snapshotEpoch, "epoch", 0, "Epoch to generate (defaults to the next epoch)")
	snapshotCmd.Flags().BoolVar(&snapshotSubmit, "submit", false, "Submit the hash to the attestation contract")

	verifyCmd.Flags().Uint64Var(&verifyEpoch, "epoch", 0, "Epoch to verify")
	_ = verifyCmd.MarkFlagRequired("epoch")
}
