package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/jrepp/prism-plumber/pkg/fixes"
	"github.com/jrepp/prism-plumber/pkg/looper"
	"github.com/jrepp/prism-plumber/pkg/patch"
	"github.com/jrepp/prism-plumber/pkg/threads"
	"github.com/spf13/cobra"
)

var patchesCmd = &cobra.Command{
	Use:   "patches",
	Short: "List the mitigation catalog",
	Long: `List every mitigation in declared order with whether it applies at the
configured API level and whether configuration disables it.

Example:
  plumber-demo patches --api-level 21
`,
	RunE: runPatches,
}

func runPatches(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	disabled, err := fixes.ParseSelection(cfg.Patches.Disabled)
	if err != nil {
		return err
	}

	// Nothing is applied here, so the scanner never runs
	scanner := threads.NewScanner(threads.NewScopedDirectory(looper.MainGroup()), threads.NewInstaller(0, nil, nil), nil, nil)
	catalog, err := fixes.NewCatalog(nil, scanner)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tAPPLIES@%d\tENABLED\n", cfg.Runtime.APILevel)
	for _, p := range catalog.Patches() {
		applies := p.Trigger(patch.Facts{APILevel: cfg.Runtime.APILevel})
		enabled := !disabled.Contains(p.ID)
		fmt.Fprintf(w, "%d\t%s\t%v\t%v\n", int(p.ID), p.Name, applies, enabled)
	}
	return w.Flush()
}
