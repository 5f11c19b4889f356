package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"gamefeeds/internal/markdown"
)

var (
	dialect string
	limit   int
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate markdown from stdin into a chat dialect",
	Long: `Reads CommonMark-ish markdown on stdin and prints it rewritten for the
chosen chat platform. With --limit the output is cut at a natural
boundary and ends with an ellipsis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dl, err := dialectByName(dialect)
		if err != nil {
			return err
		}
		src, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		out := markdown.Translate(dl, string(src))
		if limit > 0 {
			out = markdown.NaturalLimit(out, limit)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

func init() {
	translateCmd.Flags().StringVar(&dialect, "dialect", "telegram", "target dialect: telegram or discord")
	translateCmd.Flags().IntVar(&limit, "limit", 0, "maximum output length in characters (0 = unlimited)")
	rootCmd.AddCommand(translateCmd)
}

func dialectByName(name string) (markdown.Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "telegram", "tg":
		return markdown.Telegram, nil
	case "discord":
		return markdown.Discord, nil
	}
	return markdown.Dialect{}, fmt.Errorf("unknown dialect %q", name)
}
