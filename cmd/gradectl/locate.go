package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-grader/pkg/source"
)

type locateResult struct {
	Kind       string `json:"kind"`
	Owner      string `json:"owner,omitempty"`
	Repo       string `json:"repo,omitempty"`
	NotebookID string `json:"notebook_id,omitempty"`
}

func newLocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locate <url>",
		Short: "Print the repository or notebook a submission link resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := locate(args[0])
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
}

func locate(rawURL string) (locateResult, error) {
	switch {
	case source.IsNotebookURL(rawURL):
		return locateResult{Kind: "notebook", NotebookID: source.ParseNotebookID(rawURL)}, nil
	case source.IsGitHubURL(rawURL):
		ref, err := source.ParseRepository(rawURL)
		if err != nil {
			return locateResult{}, err
		}
		return locateResult{Kind: "repo_files", Owner: ref.Owner, Repo: ref.Repo}, nil
	default:
		return locateResult{}, fmt.Errorf("%w: %q is neither a GitHub nor a Colab/Drive link", source.ErrInvalidReference, rawURL)
	}
}
