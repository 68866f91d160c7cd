package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/realism/config"
	"github.com/mohammad-safakhou/realism/internal/classifier"
	"github.com/spf13/cobra"
)

func classifyCMD(cfgPath *string) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "classify [goal]",
		Short: "Print whether a goal is one-shot or persistent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := strings.Join(args, " ")
			if offline {
				fmt.Fprintln(cmd.OutOrStdout(), classifier.ByKeyword(goal))
				return nil
			}
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			c := classifier.New(newLLMClient(cfg.LLM), classifier.WithModel(cfg.LLM.ClassifierModel))
			fmt.Fprintln(cmd.OutOrStdout(), c.Classify(context.Background(), goal))
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "use keyword matching only")
	return cmd
}
