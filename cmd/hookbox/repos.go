package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hookbox/internal/deployment"
	"hookbox/internal/security"
)

var (
	repoBranch   string
	repoCloneURL string
	reposPath    string
	reposJSON    bool
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Manage repository mirrors",
}

var reposUpdateCmd = &cobra.Command{
	Use:   "update <owner/repo>",
	Short: "Clone or fast-forward a repository mirror",
	Long: `Clone or update the mirror of a repository under repository_storage_path,
the same way the repository_update handler does on a push.`,
	Args: cobra.ExactArgs(1),
	RunE: runReposUpdate,
}

var reposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local repository mirrors",
	Long: `List the git repositories under repository_storage_path with their current
branch, HEAD commit and working tree state.`,
	Args: cobra.NoArgs,
	RunE: runReposList,
}

func init() {
	reposListCmd.Flags().StringVar(&reposPath, "path", "", "Directory to search (defaults to repository_storage_path)")
	reposListCmd.Flags().BoolVar(&reposJSON, "json", false, "Print mirrors as JSON")
	reposCmd.AddCommand(reposListCmd)

	reposUpdateCmd.Flags().StringVarP(&repoBranch, "branch", "b", "", "Branch to check out (defaults to the configured branch)")
	reposUpdateCmd.Flags().StringVar(&repoCloneURL, "url", "", "Clone URL (defaults to https://github.com/<owner/repo>.git)")
	reposCmd.AddCommand(reposUpdateCmd)
}

func runReposUpdate(cmd *cobra.Command, args []string) error {
	repository := args[0]

	cfg, _, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger, _, err := setupLogging("", cfg.LogLevel)
	if err != nil {
		return err
	}

	dirName, err := security.MirrorDirName(repository)
	if err != nil {
		return err
	}
	branch := repoBranch
	if branch == "" {
		branch = cfg.Branch
	}
	if err := security.ValidateBranchName(branch); err != nil {
		return err
	}
	cloneURL := repoCloneURL
	if cloneURL == "" {
		cloneURL = "https://github.com/" + repository + ".git"
	}
	if err := security.ValidateCloneURL(cloneURL); err != nil {
		return err
	}

	syncer := deployment.NewGitSyncer(
		cfg.Deployment.Remote,
		cfg.Deployment.HardReset,
		cfg.Notifications.GitHubStatus.Token,
		deployment.NewRetryPolicy(cfg.Deployment.Retry),
		logger,
	)

	dir := filepath.Join(cfg.RepositoryStoragePath, dirName)
	action, commit, err := syncer.CloneOrUpdate(cmd.Context(), cloneURL, dir, branch)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) at %s: %s\n", action, repository, branch, commit, dir)
	return nil
}

func runReposList(cmd *cobra.Command, args []string) error {
	root := reposPath
	if root == "" {
		cfg, _, err := loadConfig(configFile)
		if err != nil {
			return err
		}
		root = cfg.RepositoryStoragePath
	}

	mirrors, err := deployment.ListMirrors(root)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reposJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(mirrors)
	}
	return printMirrors(out, root, mirrors)
}

func printMirrors(out io.Writer, root string, mirrors []deployment.MirrorInfo) error {
	if len(mirrors) == 0 {
		fmt.Fprintf(out, "No repositories found in %s\n", root)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tBRANCH\tCOMMIT\tSTATUS")
	for _, m := range mirrors {
		status := "clean"
		switch {
		case m.Error != "":
			status = "error: " + m.Error
		case m.Changes > 0:
			status = fmt.Sprintf("modified (%d files)", m.Changes)
		}
		commit := m.Commit
		if len(commit) > 7 {
			commit = commit[:7]
		}
		if m.Subject != "" {
			commit += " " + m.Subject
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Branch, commit, status)
	}
	return tw.Flush()
}
