package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadfunnel/internal/model"
	"github.com/sells-group/leadfunnel/internal/qualify"
)

// qualifyResult is the printed verdict of one checkpoint.
type qualifyResult struct {
	Checkpoint qualify.Checkpoint `yaml:"checkpoint"`
	Qualified  bool               `yaml:"qualified"`
	Reason     model.Reason       `yaml:"reason"`
	Category   model.Category     `yaml:"category"`
}

var qualifyCmd = &cobra.Command{
	Use:   "qualify",
	Short: "Evaluate a qualification checkpoint offline",
	Long: `Runs one of the funnel's screening rules against the given answers and
prints the verdict as YAML. No integration is called.

Examples:
  leadfunnel qualify lead --employment yes --experience 2_to_5
  leadfunnel qualify apply --readiness cannot_invest --timeline more_than_90_days`,
}

var qualifyLeadCmd = &cobra.Command{
	Use:   "lead",
	Short: "Screen a new lead by employment and experience",
	RunE: func(cmd *cobra.Command, _ []string) error {
		employment, _ := cmd.Flags().GetString("employment")
		experience, _ := cmd.Flags().GetString("experience")
		res, err := screen(qualify.CheckpointLead, employment, experience)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

var qualifyApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Screen an application by investment readiness and timeline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		readiness, _ := cmd.Flags().GetString("readiness")
		timeline, _ := cmd.Flags().GetString("timeline")
		res, err := screen(qualify.CheckpointApplication, readiness, timeline)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

// screen validates the two answers for the checkpoint and evaluates it.
func screen(cp qualify.Checkpoint, first, second string) (qualifyResult, error) {
	var v model.Verdict
	switch cp {
	case qualify.CheckpointLead:
		employment, experience := model.EmploymentStatus(first), model.Experience(second)
		if !employment.Valid() {
			return qualifyResult{}, model.NewValidationError("employment", fmt.Sprintf("invalid employment status %q", first))
		}
		if !experience.Valid() {
			return qualifyResult{}, model.NewValidationError("experience", fmt.Sprintf("invalid experience %q", second))
		}
		v = qualify.LeadScreening(employment, experience)
	case qualify.CheckpointApplication:
		readiness, timeline := model.InvestmentReadiness(first), model.Timeline(second)
		if !readiness.Valid() {
			return qualifyResult{}, model.NewValidationError("readiness", fmt.Sprintf("invalid investment readiness %q", first))
		}
		if !timeline.Valid() {
			return qualifyResult{}, model.NewValidationError("timeline", fmt.Sprintf("invalid timeline %q", second))
		}
		v = qualify.ApplicationScreening(readiness, timeline)
	default:
		return qualifyResult{}, eris.Errorf("qualify: unknown checkpoint %q", cp)
	}
	return qualifyResult{Checkpoint: cp, Qualified: v.Qualified, Reason: v.Reason, Category: v.Category}, nil
}

func printResult(w io.Writer, res qualifyResult) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return eris.Wrap(err, "qualify: encode result")
	}
	return enc.Close()
}

func init() {
	qualifyLeadCmd.Flags().String("employment", "", "employment status: yes or no")
	qualifyLeadCmd.Flags().String("experience", "", "experience: less_than_2, 2_to_5 or 5_plus")
	_ = qualifyLeadCmd.MarkFlagRequired("employment")
	_ = qualifyLeadCmd.MarkFlagRequired("experience")

	qualifyApplyCmd.Flags().String("readiness", "", "investment readiness")
	qualifyApplyCmd.Flags().String("timeline", "", "start timeline")
	_ = qualifyApplyCmd.MarkFlagRequired("readiness")
	_ = qualifyApplyCmd.MarkFlagRequired("timeline")

	qualifyCmd.AddCommand(qualifyLeadCmd, qualifyApplyCmd)
	rootCmd.AddCommand(qualifyCmd)
}
