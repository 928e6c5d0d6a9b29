package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		content     string
		contentFile string
		question    string
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a free-text question about some content",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if question == "" && len(args) == 1 {
				question = args[0]
			}
			c, err := readText(content, contentFile)
			if err != nil {
				return err
			}

			svc, err := a.service(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			answer, err := svc.Ask(ctx, c, question)
			if err != nil {
				return err
			}
			fmt.Println(strings.TrimSpace(answer))
			return nil
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "content to ask about")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "read the content from a file")
	cmd.Flags().StringVarP(&question, "question", "q", "", "the question")
	return cmd
}
