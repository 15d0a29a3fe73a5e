package main

import (
	"fmt"
	"strings"

	"github.com/hyperengineering/somnus/internal/validation"
	"github.com/spf13/cobra"
)

var (
	forecastDate       string
	forecastJSONOutput bool
)

var forecastCmd = &cobra.Command{
	Use:   "forecast <user-id>",
	Short: "Generate (or show) a user's forecast without running the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runForecast,
}

func init() {
	forecastCmd.Flags().StringVar(&forecastDate, "date", "", "Day to forecast (YYYY-MM-DD, default today)")
	forecastCmd.Flags().BoolVar(&forecastJSONOutput, "json", false, "Output in JSON format")
}

func runForecast(cmd *cobra.Command, args []string) error {
	userID := args[0]
	if forecastDate != "" {
		if verr := validation.ValidateDate("date", forecastDate); verr != nil {
			return fmt.Errorf("--date %s", verr.Message)
		}
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

	dreams, logs, err := a.journal.History(ctx, userID, cfg.Forecast.HistoryDays)
	if err != nil {
		return err
	}
	f, err := a.forecasts.GenerateForecast(ctx, userID, dreams, logs, forecastDate)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if forecastJSONOutput {
		return printJSON(out, f)
	}

	fmt.Fprintf(out, "Forecast:     %s\n", f.ID)
	fmt.Fprintf(out, "Date:         %s\n", f.Date)
	fmt.Fprintf(out, "Condition:    %.1f\n", f.Prediction.Condition)
	fmt.Fprintf(out, "Confidence:   %d%%\n", f.Prediction.ConfidencePercent)
	fmt.Fprintf(out, "Summary:      %s\n", f.Prediction.Summary)
	if len(f.Prediction.Risks) > 0 {
		fmt.Fprintf(out, "Risks:        %s\n", strings.Join(f.Prediction.Risks, "; "))
	}
	fmt.Fprintf(out, "Suggestions:  %s\n", strings.Join(f.Prediction.Suggestions, "; "))
	if f.Error != "" {
		fmt.Fprintf(out, "Fallback:     %s\n", f.Error)
	}
	return nil
}
