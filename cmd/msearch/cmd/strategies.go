package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/modelsearch/internal/strategy"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List registered search strategies and their default hyperparameters",
	Args:  cobra.NoArgs,
	RunE:  runStrategies,
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}

func runStrategies(cmd *cobra.Command, args []string) error {
	var result struct {
		Strategies []strategy.Info `json:"strategies"`
		Count      int             `json:"count"`
	}
	if err := apiCall("GET", "/strategies", nil, http.StatusOK, &result); err != nil {
		return err
	}
	if done, err := printStructured(result); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Learning Rate", "Batch", "Optimizer", "Dropout", "Epochs")
	for _, s := range result.Strategies {
		d := s.Defaults
		table.Append(s.Name,
			fmt.Sprintf("%g", d.LearningRate),
			fmt.Sprintf("%d", d.BatchSize),
			string(d.Optimizer),
			fmt.Sprintf("%g", d.DropoutRate),
			fmt.Sprintf("%d", d.Epochs))
	}
	table.Render()
	return nil
}
