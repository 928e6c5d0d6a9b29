package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
)

type sourceFlags struct {
	dirs       []string
	objects    []string
	skipHidden bool
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&s.dirs, "dir", nil, "directory of documents (repeatable, scanned in lexical order)")
	cmd.Flags().StringSliceVar(&s.objects, "object", nil, "object storage key (repeatable)")
	cmd.Flags().BoolVar(&s.skipHidden, "skip-hidden", true, "skip hidden files and directories")
}

// handles resolves files, then directories, then object keys, keeping order within each.
func (s *sourceFlags) handles(a *app, files []string) ([]ingest.Handle, error) {
	var out []ingest.Handle
	for _, f := range files {
		out = append(out, ingest.NewFileHandle(f))
	}
	for _, d := range s.dirs {
		hs, stats, err := ingest.CollectDirectory(d, s.skipHidden)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", d, err)
		}
		if stats.Failed > 0 {
			printWarn("%s: %d entries could not be read", d, stats.Failed)
		}
		out = append(out, hs...)
	}
	if len(s.objects) > 0 {
		store, err := a.objectStore()
		if err != nil {
			return nil, err
		}
		for _, key := range s.objects {
			out = append(out, ingest.NewObjectHandle(store, key))
		}
	}
	return out, nil
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		src         sourceFlags
		prompt      string
		promptFile  string
		override    string
		contextFile string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [files...]",
		Short: "Analyze documents with a single instruction prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			p, err := readText(prompt, promptFile)
			if err != nil {
				return err
			}
			o, err := readText(override, contextFile)
			if err != nil {
				return err
			}
			handles, err := src.handles(a, args)
			if err != nil {
				return err
			}
			if len(handles) == 0 {
				return fmt.Errorf("no documents: pass files, --dir or --object")
			}

			svc, err := a.service(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			printInfo("Analyzing %d document(s)...", len(handles))
			res, err := svc.AnalyzeHandles(ctx, handles, p, o)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(res)
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "instruction prompt")
	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "read the instruction prompt from a file")
	cmd.Flags().StringVarP(&override, "context", "c", "", "context override; takes precedence over document content")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "read the context override from a file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
