package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newMembersCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:           "members",
		Short:         "list the members a running agent currently sees",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printMembers(cmd, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:9090", "address of the agent's HTTP surface")
	return cmd
}

func printMembers(cmd *cobra.Command, addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/state/members")
	if err != nil {
		return errors.Wrapf(err, "cannot reach agent at %#v", addr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("agent returned %s", resp.Status)
	}

	var members []string
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil {
		return errors.Wrap(err, "cannot parse members response")
	}

	bold := color.New(color.Bold)
	bold.Fprintln(cmd.OutOrStdout(), "MEMBER")
	for _, m := range members {
		fmt.Fprintln(cmd.OutOrStdout(), m)
	}
	return nil
}
