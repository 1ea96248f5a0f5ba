package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	lesson "lesson_server"
)

var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "List the available lessons",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printLessons(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(lessonsCmd)
}

func printLessons(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTITLE")
	for i, l := range lesson.Lessons(lesson.Always) {
		fmt.Fprintf(tw, "%s\t%02d. %s\n", l.Name, i+1, l.Title)
	}
	return tw.Flush()
}
