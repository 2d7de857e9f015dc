package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newQueryCmd(root *rootOptions) *cobra.Command {
	var (
		maxSteps int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Send a query through the activation network",
		Long: `Seed the activation network with the workers best suited to the query,
let activation spread along weighted connections for up to --max-steps rounds
and print the integrated response.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if maxSteps < 0 {
				return errors.New("--max-steps must not be negative")
			}

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			sess, closeSession, err := root.openSession(cmd, cfg, false)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeSession(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			res, err := sess.Query(cmd.Context(), strings.Join(args, " "), maxSteps)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			fmt.Fprintln(out, res.FinalResponse)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Query:        %s\n", res.ID)
			fmt.Fprintf(out, "Contributors: %s\n", strings.Join(res.ContributingWorkers, ", "))
			fmt.Fprintf(out, "Steps:        %d (%s)\n", res.StepsTaken, res.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVarP(&maxSteps, "max-steps", "n", 0, "maximum propagation rounds (default network.max_steps)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result, including round history, as JSON")
	return cmd
}
