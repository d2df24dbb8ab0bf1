package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospect-engine/internal/acquire"
	"github.com/sells-group/prospect-engine/internal/model"
)

var (
	acquireCriteriaPath string
	acquireUserID       string
	acquireWorkspaceID  string
	acquireCount        int
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire leads for a criteria file and charge the user",
	Long:  "Reads targeting criteria from a YAML file (or - for stdin), acquires leads, saves them, settles credits and prints the outcome as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		criteria, err := loadCriteria(acquireCriteriaPath, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if acquireCount > 0 {
			criteria.LeadCount = acquireCount
		}

		env, err := initEnv(ctx, cfg, "acquire")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Service.AcquireAndSettle(ctx, acquire.Request{
			UserID:      acquireUserID,
			WorkspaceID: acquireWorkspaceID,
			Criteria:    criteria,
		})
		if err != nil {
			var pending *acquire.SettlementPendingError
			if errors.As(err, &pending) {
				cmd.PrintErrf("leads saved as %s, charge queued for retry: %v\n", pending.RecordID, pending.Err)
			}
			return err
		}

		return printJSON(cmd.OutOrStdout(), out)
	},
}

// loadCriteria parses a YAML criteria document from path, or from stdin
// when path is "-".
func loadCriteria(path string, stdin io.Reader) (model.Criteria, error) {
	var c model.Criteria

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return c, eris.Wrapf(err, "read criteria %s", path)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, eris.Wrapf(err, "parse criteria %s", path)
	}
	return c, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}

func init() {
	acquireCmd.Flags().StringVar(&acquireCriteriaPath, "criteria", "", "path to a YAML criteria file, or - for stdin")
	acquireCmd.Flags().StringVar(&acquireUserID, "user", "", "user to charge")
	acquireCmd.Flags().StringVar(&acquireWorkspaceID, "workspace", "", "workspace the leads belong to")
	acquireCmd.Flags().IntVar(&acquireCount, "count", 0, "override the criteria lead_count")
	_ = acquireCmd.MarkFlagRequired("criteria")
	_ = acquireCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(acquireCmd)
}
