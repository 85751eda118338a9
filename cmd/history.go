package main

import (
	"fmt"
	"time"

	"github.com/httprunner/bizlogic/internal/storage"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var flagLimit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently recorded requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			reqLog, err := storage.OpenDefault()
			if err != nil {
				return err
			}
			defer reqLog.Close()
			records, err := reqLog.Recent(cmd.Context(), flagLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range records {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%d\t%s\n",
					rec.CreatedAt.Local().Format(time.DateTime), rec.Serial, rec.Suite, rec.Module, rec.ParamCount, rec.URL)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum records to list")
	return cmd
}
