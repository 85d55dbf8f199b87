package version

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/criticalstack/swimkv/pkg/buildinfo"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "version",
		Short:         "swimkv version",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.Marshal(map[string]string{
				"version":   buildinfo.Version,
				"gitSHA":    buildinfo.GitSHA,
				"buildDate": buildinfo.Date,
				"goVersion": buildinfo.GoVersion,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", data)
			return nil
		},
	}
	return cmd
}
