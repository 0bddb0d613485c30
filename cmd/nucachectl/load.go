package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/datasource/memsource"
	"github.com/martinjgriffiths/nucache/service"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load --seed <fixture.yaml>",
	Short: "Load the caches from a fixture source and write the local cache files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		seed, err := flags.GetString("seed")
		if err != nil {
			return err
		}
		if seed == "" {
			return errors.New("--seed is required")
		}
		if cfg.IgnoreLocalDB, err = flags.GetBool("ignore-local-db"); err != nil {
			return err
		}
		routes, err := flags.GetBool("routes")
		if err != nil {
			return err
		}

		ctx := commandContext()
		fixture, err := memsource.LoadFixtureFile(seed)
		if err != nil {
			return err
		}
		src := memsource.New()
		if err := src.Seed(ctx, fixture); err != nil {
			return errors.Wrapf(err, "failed to seed %s", seed)
		}

		s, err := service.New(cfg, src)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Start(ctx); err != nil {
			return err
		}

		st, err := s.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), st)

		if !routes {
			return nil
		}
		snap, err := s.CreateSnapshot()
		if err != nil {
			return err
		}
		defer snap.Release()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer func() {
			// Ignore flushing errors - there's nothing we can do.
			_ = w.Flush()
		}()
		fmt.Fprintln(w, "ID\tROUTE\tPREVIEW ROUTE")
		var walk func(nodes []*api.Node)
		walk = func(nodes []*api.Node) {
			for _, n := range nodes {
				fmt.Fprintf(w, "%d\t%s\t%s\n", n.ID,
					snap.Content().GetRoute(false, n.ID, snap.Domains()),
					snap.Content().GetRoute(true, n.ID, snap.Domains()))
				walk(snap.Content().Children(true, n.ID))
			}
		}
		walk(snap.Content().GetAtRoot(true))
		return nil
	},
}

func init() {
	loadCmd.Flags().String("seed", "", "YAML fixture describing the source content")
	loadCmd.Flags().Bool("ignore-local-db", false, "Do not read or write the local cache files")
	loadCmd.Flags().Bool("routes", false, "Print the route of every content node")
}
