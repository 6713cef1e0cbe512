package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/systemshift/cattree/internal/app"
	"github.com/systemshift/cattree/internal/catalog"
	"github.com/systemshift/cattree/internal/config"
	"github.com/systemshift/cattree/internal/tree"
)

// cli carries the flags and the opened catalog between cobra hooks.
type cli struct {
	configPath string
	dbPath     string
	index      string
	asJSON     bool

	app *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "cattree",
		Short:         "Maintain a category forest with closure or nested-set indexing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.GetConfigPath(), "path to the YAML config file")
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().StringVar(&c.index, "index", "", "index encoding: closure or nested (overrides config)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		c.addCmd(),
		c.rmCmd(),
		c.mvCmd(),
		c.treeCmd(),
		c.subtreeCmd(),
		c.pathCmd(),
		c.leavesCmd(),
		c.checkCmd(),
		c.reindexCmd(),
		c.configCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	c.app, err = app.Open(cmd.Context(), cfg, cfg.Logger())
	return err
}

// load reads the config file and applies the command-line overrides.
func (c *cli) load() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.dbPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = c.dbPath
	}
	if c.index != "" {
		cfg.Index = c.index
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *cli) addCmd() *cobra.Command {
	var parent int64
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a category, as a root unless --parent is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := c.app.Service.Add(cmd.Context(), optionalID(cmd, "parent", parent), args[0])
			if err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), cat)
			}
			st := newStyles(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s\n", st.title.Render(cat.Name),
				st.dim.Render(fmt.Sprintf("(id=%d, slug=%s)", cat.ID, cat.Slug)))
			return nil
		},
	}
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent category id")
	return cmd
}

func (c *cli) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a category; its children move up to its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := c.app.Service.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d\n", id)
			return nil
		},
	}
}

func (c *cli) mvCmd() *cobra.Command {
	var (
		parent  int64
		subtree bool
	)
	cmd := &cobra.Command{
		Use:   "mv ID",
		Short: "Move a category under --parent, or to the root level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			to := optionalID(cmd, "parent", parent)

			move := c.app.Service.Move
			if subtree {
				move = c.app.Service.MoveSubtree
			}
			if err := move(cmd.Context(), id, to); err != nil {
				return err
			}

			items, err := c.app.Service.Path(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.printItems(cmd.OutOrStdout(), items, " > ")
		},
	}
	cmd.Flags().Int64Var(&parent, "parent", 0, "new parent category id")
	cmd.Flags().BoolVar(&subtree, "subtree", false, "move the descendants along")
	return cmd
}

func (c *cli) treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the whole forest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.app.Service.Tree(cmd.Context())
			if err != nil {
				return err
			}
			return c.printForest(cmd.OutOrStdout(), f)
		},
	}
}

func (c *cli) subtreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subtree ID",
		Short: "Print a category and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			f, err := c.app.Service.Subtree(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.printForest(cmd.OutOrStdout(), f)
		},
	}
}

func (c *cli) pathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path ID",
		Short: "Print the ancestors of a category, root first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			items, err := c.app.Service.Path(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.printItems(cmd.OutOrStdout(), items, " > ")
		},
	}
}

func (c *cli) leavesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaves",
		Short: "List categories without children",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := c.app.Service.Leaves(cmd.Context())
			if err != nil {
				return err
			}
			return c.printItems(cmd.OutOrStdout(), items, "\n")
		},
	}
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the index invariants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			st := newStyles(out)

			err := c.app.Service.Check(cmd.Context())
			var inv *tree.InvariantError
			if errors.As(err, &inv) {
				for _, v := range inv.Violations {
					fmt.Fprintln(out, st.err.Render(v))
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, st.ok.Render(fmt.Sprintf("%s index ok", c.app.Service.Kind())))
			return nil
		},
	}
}

func (c *cli) reindexCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the selected index from the other encoding",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tree.Kind(from) == c.app.Service.Kind() {
				return fmt.Errorf("--from %s is the index being rebuilt", from)
			}
			src, err := app.IndexFor(from)
			if err != nil {
				return err
			}
			if err := c.app.Service.Rebuild(cmd.Context(), src); err != nil {
				return err
			}
			if err := c.app.Service.Check(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %s index from %s\n", c.app.Service.Kind(), from)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source index: closure or nested")
	cmd.MarkFlagRequired("from")
	return cmd
}

func (c *cli) printForest(w io.Writer, f *tree.Forest) error {
	if c.asJSON {
		return writeJSON(w, f)
	}
	return f.Print(w)
}

func (c *cli) printItems(w io.Writer, items []catalog.Item, sep string) error {
	if c.asJSON {
		return writeJSON(w, items)
	}
	for i, it := range items {
		if i > 0 {
			fmt.Fprint(w, sep)
		}
		fmt.Fprintf(w, "%s (id=%d)", it.Name, it.ID)
	}
	if len(items) > 0 {
		fmt.Fprintln(w)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// optionalID returns &v when the flag was given and nil otherwise.
func optionalID(cmd *cobra.Command, flag string, v int64) *int64 {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &v
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid category id %q", s)
	}
	return id, nil
}

func (c *cli) configCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or save it to --config with --write",
		Args:  cobra.NoArgs,
		// Needs no database
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if write {
				if err := config.Save(c.configPath, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", c.configPath)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "write the effective configuration to the --config path")
	return cmd
}
