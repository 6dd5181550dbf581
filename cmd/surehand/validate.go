package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surehand-ai/surehand/internal/guard"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan.yaml>",
	Short: "Check a plan against policy without executing anything",
	Long: `Validate loads a plan file and runs the full pre-flight check:
tool classification, trusted-app and trusted-domain lists, dangerous
keypress detection, and plan-level limits. Nothing is executed and no
tool host is required.`,
	Args: cobra.ExactArgs(1),
	RunE: validatePlan,
}

// openPolicy stands in for the session permit during offline validation.
// Session scoping is a run-time decision; validate reports only what static
// policy rejects.
type openPolicy struct{}

func (openPolicy) NetworkAllowed() bool { return true }

func (openPolicy) AppAllowed(string) bool { return true }

func validatePlan(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	plan, err := loadPlan(args[0])
	if err != nil {
		return err
	}

	planGuard := guard.New(guardConfigFrom(cfg), openPolicy{}, guard.WithLogger(logger))
	if err := planGuard.Validate(cmd.Context(), plan); err != nil {
		var verr *guard.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "plan %s REJECTED with %d violation(s):\n", plan.ID, len(verr.Violations))
			for _, v := range verr.Violations {
				fmt.Fprintf(out, "  - %s\n", v)
			}
		}
		return err
	}

	fmt.Fprintf(out, "plan %s OK (%d steps)\n", plan.ID, len(plan.Steps))
	return nil
}
