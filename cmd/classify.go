package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/classifier"
	"github.com/teemow/inboxpilot/internal/tools"
)

func newClassifyCmd() *cobra.Command {
	var policyFile string

	cmd := &cobra.Command{
		Use:   "classify [tool-name...]",
		Short: "Show the safety category of tools",
		Long: `Show the safety category the engine assigns to each tool name and the
rule that decided it. Built-in tools also take their declared hints into
account. Without arguments every built-in tool is listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClassifier(policyFile)
			if err != nil {
				return err
			}
			return writeClassification(cmd.OutOrStdout(), c, args)
		},
	}

	cmd.Flags().StringVar(&policyFile, "tool-policy-file", "", "Tool policy file with category overrides")

	return cmd
}

func writeClassification(w io.Writer, c *classifier.Classifier, names []string) error {
	capabilities := make(map[string]tools.Capability)
	for _, t := range builtinTools() {
		capabilities[t.Tool.Name] = backends.CapabilityFromAnnotations(t.Tool.Annotations)
	}
	if len(names) == 0 {
		for _, t := range builtinTools() {
			names = append(names, t.Tool.Name)
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tCATEGORY\tDECIDED BY")
	for _, name := range names {
		d := c.Explain(name, capabilities[name])
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, d.Category, d.Source)
	}
	return tw.Flush()
}
