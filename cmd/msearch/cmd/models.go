package cmd

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/modelsearch/pkg/models"
)

// modelsCmd represents the models command
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect models produced by search jobs",
}

var modelsGetCmd = &cobra.Command{
	Use:   "get <model-id>",
	Short: "Show a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsGet,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsGetCmd)
}

func runModelsGet(cmd *cobra.Command, args []string) error {
	var model models.Model
	if err := apiCall("GET", "/models/"+args[0], nil, http.StatusOK, &model); err != nil {
		return err
	}
	if done, err := printStructured(model); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Model ID", model.ID)
	table.Append("Name", model.Name)
	table.Append("Task", model.Task)
	table.Append("Status", string(model.Status))
	if model.Accuracy != nil {
		table.Append("Accuracy", fmt.Sprintf("%.2f%%", *model.Accuracy))
	}
	table.Append("Loss", formatFloat(model.Loss))
	if model.ArtifactPath != "" {
		table.Append("Artifact", model.ArtifactPath)
	}
	if model.Hyperparameters != nil {
		table.Append("Hyperparameters", model.Hyperparameters.String())
	}
	keys := make([]string, 0, len(model.Metrics))
	for k := range model.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		table.Append("metrics."+k, fmt.Sprintf("%v", model.Metrics[k]))
	}
	table.Append("Created At", model.CreatedAt.Format(time.RFC3339))
	if model.LastTrained != nil {
		table.Append("Last Trained", model.LastTrained.Format(time.RFC3339))
	}
	table.Render()
	return nil
}
