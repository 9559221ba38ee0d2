package cmd

import (
	"fmt"
	"strconv"

	"TLDRTube/core/costs"

	"github.com/spf13/cobra"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <seconds>",
	Short: "估算处理费用",
	Long:  `按视频时长（秒）估算下载、说话人分离和后处理的费用。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.ParseFloat(args[0], 64)
		if err != nil || seconds < 0 {
			return fmt.Errorf("invalid duration %q: must be a non-negative number of seconds", args[0])
		}
		b := costs.Estimate(seconds)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "视频时长:   %s\n", costs.FormatDuration(seconds))
		fmt.Fprintf(out, "下载:       %s\n", costs.FormatCost(b.Download))
		fmt.Fprintf(out, "说话人分离: %s\n", costs.FormatCost(b.Diarization))
		fmt.Fprintf(out, "后处理:     %s\n", costs.FormatCost(b.Processing))
		fmt.Fprintf(out, "合计:       %s\n", costs.FormatCost(b.Total))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(estimateCmd)
}
