package commands

import (
	"os"

	"coursewatcher/lib/configutil"
	"coursewatcher/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every enrolled course and its completion state.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		client := createClient(cfg)

		ids, err := client.EnrolledCourseIds(ctx)
		if err != nil {
			serviceutil.Fatal("failed to list enrolled courses", err)
		}

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Id", "Title", "Completion", "Quizzes", "Lectures"})
		for _, id := range ids {
			details, err := client.CourseDetails(ctx, id)
			if err != nil {
				serviceutil.Fatal("failed to fetch course details", err)
			}
			t.AppendRow(table.Row{
				details.Id,
				details.Title,
				details.CompletionRatio,
				details.NumQuizzes,
				details.NumLectures,
			})
		}
		t.Render()
	},
}
