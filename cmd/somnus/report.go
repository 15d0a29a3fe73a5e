package main

import (
	"fmt"

	"github.com/hyperengineering/somnus/internal/alerts"
	"github.com/hyperengineering/somnus/internal/goals"
	"github.com/hyperengineering/somnus/internal/types"
	"github.com/spf13/cobra"
)

var (
	reportDays       int
	reportJSONOutput bool
)

var reportCmd = &cobra.Command{
	Use:   "report <user-id>",
	Short: "Print a user's forecast accuracy, alerts and goal progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().IntVar(&reportDays, "days", 30, "Forecast window in days")
	reportCmd.Flags().BoolVar(&reportJSONOutput, "json", false, "Output in JSON format")
}

// userReport is the JSON shape of the report command.
type userReport struct {
	UserID     string                      `json:"user_id"`
	Forecasts  types.ForecastStatsResponse `json:"forecasts"`
	Alerts     types.AlertsResponse        `json:"alerts"`
	Progress   types.WeeklyProgress        `json:"progress"`
	Suggestion types.SuggestedGoals        `json:"suggested_goals"`
}

func runReport(cmd *cobra.Command, args []string) error {
	userID := args[0]
	if reportDays < 1 {
		return fmt.Errorf("--days must be positive, got %d", reportDays)
	}

	cfg, err := loadCLIConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	r := userReport{UserID: userID}

	avg, err := a.forecasts.GetAverageAccuracy(ctx, userID)
	if err != nil {
		return err
	}
	review, err := a.forecasts.GetReviewStats(ctx, userID, reportDays)
	if err != nil {
		return err
	}
	experiment, err := a.forecasts.GetExperimentSummary(ctx, userID, reportDays)
	if err != nil {
		return err
	}
	r.Forecasts = types.ForecastStatsResponse{
		Days:            reportDays,
		AverageAccuracy: avg,
		Review:          review,
		Experiment:      experiment,
	}

	dreams, logs, err := a.journal.History(ctx, userID, goals.DefaultLookbackDays)
	if err != nil {
		return err
	}
	found := a.detector.Detect(logs, dreams)
	r.Alerts = types.AlertsResponse{Alerts: found, Summary: alerts.Summarize(found)}

	if r.Progress, err = a.goals.GetWeeklyProgress(ctx, userID, logs, dreams); err != nil {
		return err
	}
	if r.Suggestion, err = a.goals.GetSuggestedGoals(ctx, userID, logs, dreams, goals.DefaultLookbackDays); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reportJSONOutput {
		return printJSON(out, r)
	}

	fmt.Fprintf(out, "User:              %s\n", r.UserID)
	fmt.Fprintf(out, "Average accuracy:  %.1f%%\n", r.Forecasts.AverageAccuracy)
	fmt.Fprintf(out, "Reviewed (%dd):    %d (hit %d, partial %d, miss %d)\n",
		review.Days, review.Total, review.Hit, review.Partial, review.Miss)
	fmt.Fprintf(out, "Experiment:        %+.1f condition on high-completion days (n=%d)\n",
		experiment.Improvement, experiment.SampleSize)
	fmt.Fprintf(out, "Alerts:            %s\n", r.Alerts.Summary.Message)
	fmt.Fprintln(out)

	w := newTabWriter(out)
	fmt.Fprintln(w, "GOAL\tCURRENT\tTARGET\tRATE\tSUGGESTED")
	fmt.Fprintf(w, "check-in days\t%.0f\t%.0f\t%d%%\t%.0f\n",
		r.Progress.CheckInDays.Current, r.Progress.CheckInDays.Target, r.Progress.CheckInDays.Rate, r.Suggestion.Suggested.CheckInDaysTarget)
	fmt.Fprintf(w, "dreams\t%.0f\t%.0f\t%d%%\t%.0f\n",
		r.Progress.DreamCount.Current, r.Progress.DreamCount.Target, r.Progress.DreamCount.Rate, r.Suggestion.Suggested.DreamCountTarget)
	fmt.Fprintf(w, "avg sleep (h)\t%.1f\t%.1f\t%d%%\t%.1f\n",
		r.Progress.AvgSleepHours.Current, r.Progress.AvgSleepHours.Target, r.Progress.AvgSleepHours.Rate, r.Suggestion.Suggested.AvgSleepHoursTarget)
	return w.Flush()
}
