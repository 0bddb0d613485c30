package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/dustin/go-humanize"
	"github.com/martinjgriffiths/nucache/localdb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "Show the state of the local cache files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return errors.New("inspect command takes no arguments")
			}
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			nodes, err := cmd.Flags().GetBool("nodes")
			if err != nil {
				return err
			}

			ctx := commandContext()
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer func() {
				// Ignore flushing errors - there's nothing we can do.
				_ = w.Flush()
			}()

			return forEachCache(cfg, func(c *localdb.Cache) error {
				fmt.Fprintf(w, "Tree:\t%s\n", c.Tree())
				fmt.Fprintf(w, "  File:\t%s\n", c.Path())
				if fi, err := os.Stat(c.Path()); err == nil {
					fmt.Fprintf(w, "  Size:\t%s\n", units.HumanSize(float64(fi.Size())))
				}
				fmt.Fprintf(w, "  Valid:\t%t\n", c.IsValid(ctx))
				if count, err := c.Count(); err == nil {
					fmt.Fprintf(w, "  Count:\t%s\n", humanize.Comma(int64(count)))
				}
				if d, err := c.Digest(); err == nil {
					fmt.Fprintf(w, "  Digest:\t%s\n", d)
				}
				if !nodes {
					return nil
				}

				kits, err := c.Load(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "  ID\tPARENT\tLEVEL\tSORT\tTYPE\tNAME")
				for _, k := range kits {
					name := ""
					if k.Published != nil {
						name = k.Published.Name
					} else if k.Draft != nil {
						name = k.Draft.Name
					}
					fmt.Fprintf(w, "  %d\t%d\t%d\t%d\t%d\t%s\n",
						k.Node.ID, k.Node.ParentID, k.Node.Level, k.Node.SortOrder, k.ContentTypeID, name)
				}
				return nil
			})
		},
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Check that the local cache files can be trusted on start",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := commandContext()

			var invalid []string
			if err := forEachCache(cfg, func(c *localdb.Cache) error {
				if !c.IsValid(ctx) {
					invalid = append(invalid, c.Tree().String())
				}
				return nil
			}); err != nil {
				return err
			}
			if len(invalid) > 0 {
				return errors.Errorf("invalid local cache: %v", invalid)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "local caches are valid")
			return nil
		},
	}

	invalidateCmd = &cobra.Command{
		Use:   "invalidate",
		Short: "Discard the local cache files so that the next start loads from the source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := commandContext()
			return forEachCache(cfg, func(c *localdb.Cache) error {
				if err := c.Invalidate(ctx); err != nil {
					return errors.Wrapf(err, "failed to invalidate %s", c.Path())
				}
				fprintfIfNotEmpty(cmd.OutOrStdout(), "invalidated %s\n", c.Path())
				return nil
			})
		},
	}
)

func init() {
	inspectCmd.Flags().Bool("nodes", false, "List the cached nodes")
}
