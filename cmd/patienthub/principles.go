package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patienthub/patienthub-go/principles"
)

func newPrinciplesCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "principles [group...]",
		Short: "List the principles used to critique client replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = a.cfg.Client.Principles
			}
			if file == "" {
				return errors.New("no principles file: pass --file or set client.principles")
			}
			set, err := principles.Load(file)
			if err != nil {
				return err
			}

			groups := args
			if len(groups) == 0 {
				groups = set.Groups()
			}
			w := cmd.OutOrStdout()
			for _, id := range groups {
				guidelines := set.Group(id)
				if guidelines == nil {
					return fmt.Errorf("unknown principle group %q", id)
				}
				fmt.Fprintf(w, "%s (%d)\n", id, len(guidelines))
				for _, g := range guidelines {
					fmt.Fprintf(w, "  - %s\n", g)
				}
			}
			fmt.Fprintf(os.Stderr, "%d groups, %d guidelines\n", len(set.Groups()), set.Len())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "principles JSON file (default from config)")
	return cmd
}
