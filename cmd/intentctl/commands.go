package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/chatdesk/internal/extract"
	"github.com/ashureev/chatdesk/internal/intent"
	"github.com/ashureev/chatdesk/internal/recent"
	"github.com/ashureev/chatdesk/internal/resolve"
	"github.com/ashureev/chatdesk/internal/store"
)

type options struct {
	dbPath    string
	rulesPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "intentctl",
		Short:         "Inspect intent classification and entity resolution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.dbPath, "db", "d", "", "Database path (default: $DB_PATH or ./data/chatdesk.db)")
	root.PersistentFlags().StringVar(&opts.rulesPath, "rules", "", "Intent rule file (default: embedded rules)")

	root.AddCommand(newClassifyCmd(opts), newResolveCmd(opts), newSeedCmd(opts), newRenameCmd(opts))
	return root
}

func (o *options) db() string {
	if o.dbPath != "" {
		return o.dbPath
	}
	if env := os.Getenv("DB_PATH"); env != "" {
		return env
	}
	return "./data/chatdesk.db"
}

func (o *options) rules() (*intent.RuleSet, error) {
	if o.rulesPath == "" {
		return intent.DefaultRules()
	}
	return intent.LoadRulesFile(o.rulesPath)
}

func newClassifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Show the extraction and the rule trace for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := opts.rules()
			if err != nil {
				return fmt.Errorf("load rules: %w", err)
			}
			text := strings.Join(args, " ")
			ex := extract.Default().Extract(text)
			explanation := intent.NewClassifier(rules).Explain(text, intent.Hints{
				HasSubject: ex.HasSubject(),
				HasNumber:  ex.HasNumber(),
			})
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"extraction":  ex,
				"explanation": explanation,
			})
		},
	}
}

// maxNames caps how many subjects one resolve invocation looks up.
const maxNames = 5

func newResolveCmd(opts *options) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "resolve <text>",
		Short: "Resolve the names in a message against a user's recent entities and the local store",
		Long: "Resolve extracts up to five subject names from the text and resolves each.\n" +
			"One name prints a single result, several print an array in input order.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.NewSQLite(opts.db())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = s.Close() }()

			text := strings.Join(args, " ")
			names := extract.Default().ExtractSubjects(text, maxNames)
			if len(names) == 0 {
				names = []string{text}
			}

			recents := recent.New(recent.DefaultCapacity, s, nil)
			results, err := resolve.New(recents, s).ResolveMany(cmd.Context(), userID, names)
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}
			if len(results) == 1 {
				return printJSON(cmd.OutOrStdout(), results[0])
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "User whose recent entities bias the result")
	return cmd
}

func newRenameCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename an entity in the local store",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.NewSQLite(opts.db())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = s.Close() }()

			res, err := s.RenameEntity(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return fmt.Errorf("rename: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newSeedCmd(opts *options) *cobra.Command {
	var aliases []string
	cmd := &cobra.Command{
		Use:   "seed <title>",
		Short: "Create an entity in the local store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.NewSQLite(opts.db())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = s.Close() }()

			e, err := s.SeedEntity(cmd.Context(), strings.Join(args, " "), aliases...)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), e)
		},
	}
	cmd.Flags().StringSliceVarP(&aliases, "alias", "a", nil, "Alias (repeatable)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
