package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/symptom-expert-server/internal/app"
	"github.com/symptom-expert-server/internal/domain"
)

const modeBoth = "both"

var diagnoseFlags struct {
	mode    string
	top     int
	targets []string
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose SYMPTOM...",
	Short: "Rank diagnoses for a list of symptom codes",
	Example: "  expertctl diagnose fievre toux courbatures\n" +
		"  expertctl diagnose --mode both --top 5 nez_qui_coule eternuements",
	Args: cobra.MinimumNArgs(1),
	RunE: runDiagnose,
}

func init() {
	f := diagnoseCmd.Flags()
	f.StringVar(&diagnoseFlags.mode, "mode", "forward", "forward, backward or both")
	f.IntVar(&diagnoseFlags.top, "top", 3, "number of diagnoses to show")
	f.StringSliceVar(&diagnoseFlags.targets, "targets", nil, "diagnoses to test in backward mode")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	modes, err := diagnoseModes(diagnoseFlags.mode)
	if err != nil {
		return err
	}

	cm, logger, err := loadEnv()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := app.NewWithConfig(ctx, cm, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	out := cmd.OutOrStdout()
	for _, mode := range modes {
		req := &domain.DiagnosisRequest{
			Symptoms: args,
			Mode:     mode,
			TopK:     diagnoseFlags.top,
		}
		if mode == domain.ModeBackward {
			req.Targets = diagnoseFlags.targets
		}

		resp, err := application.Service.Diagnose(ctx, req)
		if errors.Is(err, domain.ErrEmptySymptomSet) {
			return fmt.Errorf("none of %s is a known symptom", strings.Join(args, ", "))
		}
		if err != nil {
			return err
		}
		writeReport(out, resp)
	}
	return nil
}

func diagnoseModes(flag string) ([]domain.InferenceMode, error) {
	if strings.EqualFold(strings.TrimSpace(flag), modeBoth) {
		return []domain.InferenceMode{domain.ModeForward, domain.ModeBackward}, nil
	}
	mode, err := domain.ParseInferenceMode(flag)
	if err != nil {
		return nil, err
	}
	return []domain.InferenceMode{mode}, nil
}

// writeReport prints ranked diagnoses with the rules that fired for each.
func writeReport(w io.Writer, resp *domain.DiagnosisResponse) {
	fmt.Fprintf(w, "== %s chaining ==\n", resp.Mode)

	for i, r := range resp.Results {
		label := r.Diagnosis
		if r.Name != "" && r.Name != r.Diagnosis {
			label = fmt.Sprintf("%s (%s)", r.Diagnosis, r.Name)
		}
		fmt.Fprintf(w, "%d. %-40s %.3f\n", i+1, label, r.Score)

		if len(r.Matches) == 0 {
			for _, e := range r.Explanations {
				fmt.Fprintf(w, "     %s\n", e)
			}
			continue
		}
		for _, m := range r.Matches {
			fmt.Fprintf(w, "     %s | +%.3f | %s\n", m.RuleID, m.ScoreAdded, m.Explanation)
		}
	}

	if resp.Inconclusive {
		fmt.Fprintln(w, "No rule fired; result is inconclusive.")
	}
	if len(resp.UnknownSymptoms) > 0 {
		fmt.Fprintf(w, "Ignored unknown symptoms: %s\n", strings.Join(resp.UnknownSymptoms, ", "))
	}
	fmt.Fprintln(w)
}
