package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/modelsearch/internal/api"
	"github.com/psantana5/modelsearch/pkg/models"
)

var (
	// Job submit flags
	datasetPath   string
	datasetName   string
	datasetID     string
	datasetDomain string
	numClasses    int
	modelName     string
	task          string
	strategyHint  string
	maxIterations int
	targetMetric  float64
	learningRate  float64
	batchSize     int
	optimizer     string
	dropoutRate   float64
	epochs        int

	// Job status flags
	followStatus bool
	statusFilter string
	pollInterval time.Duration

	// Job logs flags
	deleteLogs bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage search jobs",
	Long:  `Commands for submitting, listing, inspecting and cancelling search jobs.`,
}

// jobsSubmitCmd represents the jobs submit command
var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new search job",
	Long:  `Submit a new architecture search job to the supervisor.`,
	RunE:  runJobsSubmit,
}

// jobsStatusCmd represents the jobs status command
var jobsStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Get job status",
	Long:  `Retrieve the status of a specific job. If no ID is provided, lists all jobs.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsStatus,
}

// jobsCancelCmd represents the jobs cancel command
var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long:  `Cancel a pending or running job. Its worker process is terminated.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

// jobsLogsCmd represents the jobs logs command
var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Get logs for a job",
	Long:  `Retrieve the per-job log written by the worker.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsLogsCmd)

	// Flags for job submit
	addSubmitFlags(jobsSubmitCmd)
	jobsSubmitCmd.MarkFlagRequired("dataset")

	// Flags for job status
	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status until it reaches a terminal state")
	jobsStatusCmd.Flags().StringVar(&statusFilter, "status", "", "only list jobs in this status")
	jobsStatusCmd.Flags().DurationVar(&pollInterval, "interval", 2*time.Second, "poll interval with --follow")

	// Flags for job logs
	jobsLogsCmd.Flags().BoolVar(&deleteLogs, "delete", false, "delete the log file instead of printing it")
}

func addSubmitFlags(c *cobra.Command) {
	c.Flags().StringVar(&datasetPath, "dataset", "", "dataset directory (required)")
	c.Flags().StringVar(&datasetName, "dataset-name", "", "dataset name (default: directory name)")
	c.Flags().StringVar(&datasetID, "dataset-id", "", "dataset identifier")
	c.Flags().StringVar(&datasetDomain, "domain", "vision", "dataset domain")
	c.Flags().IntVar(&numClasses, "num-classes", 0, "number of classes (default: inferred from the dataset)")
	c.Flags().StringVar(&modelName, "model-name", "", "name of the produced model")
	c.Flags().StringVar(&task, "task", "classification", "task type")
	c.Flags().StringVar(&strategyHint, "strategy", "", "preferred strategy name")
	c.Flags().IntVar(&maxIterations, "max-iterations", models.DefaultMaxIterations, "maximum search iterations")
	c.Flags().Float64Var(&targetMetric, "target", models.DefaultTargetMetric, "stop once accuracy reaches this value (0-1)")
	c.Flags().Float64Var(&learningRate, "learning-rate", 0, "pin the learning rate")
	c.Flags().IntVar(&batchSize, "batch-size", 0, "pin the batch size")
	c.Flags().StringVar(&optimizer, "optimizer", "", "pin the optimizer (Adam, SGD, RMSprop)")
	c.Flags().Float64Var(&dropoutRate, "dropout", 0, "pin the dropout rate")
	c.Flags().IntVar(&epochs, "epochs", 0, "pin the epochs per trial")
}

type jobsListResponse struct {
	Jobs  []models.Job `json:"jobs"`
	Count int          `json:"count"`
}

// buildJobRequest turns the submit flags into a request. Only flags the user
// set become hyperparameter overrides.
func buildJobRequest(cmd *cobra.Command) (models.JobRequest, error) {
	req := models.JobRequest{
		Dataset: models.DatasetDescriptor{
			ID:         datasetID,
			Name:       datasetName,
			Path:       datasetPath,
			Domain:     datasetDomain,
			NumClasses: numClasses,
		},
		ModelName:     modelName,
		Task:          task,
		Strategy:      strategyHint,
		MaxIterations: maxIterations,
		TargetMetric:  targetMetric,
	}

	flags := cmd.Flags()
	if flags.Changed("learning-rate") {
		lr := learningRate
		req.Overrides.LearningRate = &lr
	}
	if flags.Changed("batch-size") {
		bs := batchSize
		req.Overrides.BatchSize = &bs
	}
	if flags.Changed("optimizer") {
		opt, err := models.ParseOptimizer(optimizer)
		if err != nil {
			return req, err
		}
		req.Overrides.Optimizer = &opt
	}
	if flags.Changed("dropout") {
		d := dropoutRate
		req.Overrides.DropoutRate = &d
	}
	if flags.Changed("epochs") {
		e := epochs
		req.Overrides.Epochs = &e
	}
	return req, nil
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	req, err := buildJobRequest(cmd)
	if err != nil {
		return err
	}

	var result models.Job
	if err := apiCall("POST", "/jobs", req, http.StatusCreated, &result); err != nil {
		return err
	}

	if done, err := printStructured(result); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", result.ID)
	table.Append("Model ID", result.ModelID)
	table.Append("Status", string(result.Status))
	table.Append("Iterations", fmt.Sprintf("%d", result.TotalIterations))
	table.Append("Created At", result.CreatedAt.Format(time.RFC3339))
	table.Render()
	fmt.Printf("\nJob submitted successfully! Follow it with: msearch jobs status %s --follow\n", result.ID)
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	// If no job ID provided, list all jobs
	if len(args) == 0 {
		return listAllJobs()
	}

	jobID := args[0]
	if !followStatus {
		job, err := fetchJob(jobID)
		if err != nil {
			return err
		}
		return displayJob(os.Stdout, job)
	}

	fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
	for {
		job, err := fetchJob(jobID)
		if err != nil {
			return err
		}
		if !IsJSONOutput() && !IsYAMLOutput() {
			fmt.Print("\033[H\033[2J") // Clear screen
		}
		if err := displayJob(os.Stdout, job); err != nil {
			return err
		}
		if models.IsTerminalState(job.Status) {
			fmt.Printf("\nJob reached terminal state: %s\n", job.Status)
			return nil
		}
		time.Sleep(pollInterval)
	}
}

func listAllJobs() error {
	path := "/jobs"
	if statusFilter != "" {
		path += "?status=" + statusFilter
	}

	var result jobsListResponse
	if err := apiCall("GET", path, nil, http.StatusOK, &result); err != nil {
		return err
	}

	if done, err := printStructured(result); done {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job", "Status", "Progress", "Iteration", "Best Acc", "Strategy", "Created")
	for _, job := range result.Jobs {
		strategyName := job.Strategy
		if strategyName == "" {
			strategyName = "-"
		}
		table.Append(
			shortID(job.ID),
			string(job.Status),
			fmt.Sprintf("%.0f%%", job.Progress),
			fmt.Sprintf("%d/%d", job.CurrentIteration, job.TotalIterations),
			formatPercent(job.BestAccuracy),
			strategyName,
			job.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	table.Render()
	fmt.Printf("\nTotal jobs: %d\n", result.Count)
	return nil
}

func fetchJob(jobID string) (*models.Job, error) {
	var job models.Job
	if err := apiCall("GET", "/jobs/"+jobID, nil, http.StatusOK, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func displayJob(w io.Writer, job *models.Job) error {
	if done, err := writeStructured(w, job); done {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	table.Append("Job ID", job.ID)
	table.Append("Model ID", job.ModelID)
	table.Append("Status", string(job.Status))
	table.Append("Progress", fmt.Sprintf("%.1f%%", job.Progress))
	table.Append("Iteration", fmt.Sprintf("%d/%d", job.CurrentIteration, job.TotalIterations))
	if job.Strategy != "" {
		table.Append("Strategy", job.Strategy)
	}
	table.Append("Current Accuracy", formatPercent(job.CurrentAccuracy))
	table.Append("Best Accuracy", formatPercent(job.BestAccuracy))
	table.Append("Current Loss", formatFloat(job.CurrentLoss))
	table.Append("Best Loss", formatFloat(job.BestLoss))
	if job.F1Score != nil {
		table.Append("Precision", formatFloat(job.Precision))
		table.Append("Recall", formatFloat(job.Recall))
		table.Append("F1", formatFloat(job.F1Score))
	}
	if trials, ok := job.Config["trials"].([]interface{}); ok {
		succeeded := 0
		for _, t := range trials {
			if rec, ok := t.(map[string]interface{}); ok && rec["success"] == true {
				succeeded++
			}
		}
		table.Append("Trials", fmt.Sprintf("%d (%d succeeded)", len(trials), succeeded))
	}
	if elapsed, ok := job.Config["elapsed_time"].(string); ok {
		table.Append("Elapsed", elapsed)
	}
	if remaining, ok := job.Config["estimated_remaining"].(string); ok && !models.IsTerminalState(job.Status) {
		table.Append("Remaining", remaining)
	}
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		table.Append("Started At", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		table.Append("Completed At", job.CompletedAt.Format(time.RFC3339))
	}
	if job.ErrorMessage != "" {
		table.Append("Error", job.ErrorMessage)
	}
	table.Render()
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	var result api.CancelResponse
	if err := apiCall("POST", "/jobs/"+args[0]+"/cancel", nil, http.StatusOK, &result); err != nil {
		return err
	}

	if done, err := printStructured(result); done {
		return err
	}
	if result.Terminated {
		fmt.Printf("Job %s cancelled; worker process terminated\n", result.JobID)
	} else {
		fmt.Printf("Job %s cancelled\n", result.JobID)
	}
	return nil
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	if deleteLogs {
		if err := apiCall("DELETE", "/jobs/"+jobID+"/logs", nil, http.StatusOK, nil); err != nil {
			return err
		}
		fmt.Printf("Logs for job %s deleted\n", jobID)
		return nil
	}

	var result struct {
		JobID string `json:"job_id"`
		Logs  string `json:"logs"`
	}
	if err := apiCall("GET", "/jobs/"+jobID+"/logs", nil, http.StatusOK, &result); err != nil {
		return err
	}
	if done, err := printStructured(result); done {
		return err
	}
	fmt.Print(result.Logs)
	return nil
}
