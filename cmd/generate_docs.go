package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/inboxpilot/internal/backends"
	"github.com/teemow/inboxpilot/internal/classifier"
	"github.com/teemow/inboxpilot/internal/tools/google_tools"
	"github.com/teemow/inboxpilot/internal/tools/memory_tools"
)

// builtinTool is a tool of one of the in-process providers.
type builtinTool struct {
	Provider string
	Tool     mcp.Tool
}

func builtinTools() []builtinTool {
	var out []builtinTool
	for _, t := range google_tools.Definitions() {
		out = append(out, builtinTool{Provider: google_tools.ProviderName, Tool: t})
	}
	for _, t := range memory_tools.Definitions() {
		out = append(out, builtinTool{Provider: memory_tools.ProviderName, Tool: t})
	}
	return out
}

// loadClassifier returns a classifier with the policy file applied, or the
// built-in rules when policyFile is empty.
func loadClassifier(policyFile string) (*classifier.Classifier, error) {
	if policyFile == "" {
		return classifier.New(nil, nil), nil
	}
	policy, err := classifier.LoadPolicy(policyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tool policy: %w", err)
	}
	return classifier.New(policy, nil), nil
}

func newGenerateDocsCmd() *cobra.Command {
	var (
		outputFile string
		policyFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate tool documentation",
		Long: `Generate markdown documentation for the built-in tools.
The tool definitions and their safety categories are introspected, so the
documentation always matches what the engine schedules.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile, policyFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&policyFile, "tool-policy-file", "", "Tool policy file whose overrides are applied to the categories")

	return cmd
}

func runGenerateDocs(outputFile, policyFile string) error {
	c, err := loadClassifier(policyFile)
	if err != nil {
		return err
	}

	markdown := generateToolsMarkdown(builtinTools(), c)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	} else {
		fmt.Print(markdown)
	}

	return nil
}

func generateToolsMarkdown(all []builtinTool, c *classifier.Classifier) string {
	var sb strings.Builder

	sb.WriteString("# Tools Reference\n\n")
	sb.WriteString("This document lists the built-in tools of inboxpilot and how the engine schedules them.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	byProvider := make(map[string][]builtinTool)
	for _, t := range all {
		byProvider[t.Provider] = append(byProvider[t.Provider], t)
	}
	providers := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	sb.WriteString("## Table of Contents\n\n")
	for _, p := range providers {
		title := providerTitle(p)
		anchor := strings.ToLower(strings.ReplaceAll(title, " ", "-"))
		sb.WriteString(fmt.Sprintf("- [%s](#%s)\n", title, anchor))
	}
	sb.WriteString("\n")

	sb.WriteString("## Safety Categories\n\n")
	sb.WriteString("- `SAFE_PARALLEL`: read-only, runs concurrently with other safe calls\n")
	sb.WriteString("- `SEQUENTIAL_ONLY`: changes state, runs one at a time in plan order\n")
	sb.WriteString("- `REQUIRES_APPROVAL`: has external side effects, suspends the run until a human decides\n\n")

	for _, p := range providers {
		list := byProvider[p]
		sort.Slice(list, func(i, j int) bool {
			return list[i].Tool.Name < list[j].Tool.Name
		})

		sb.WriteString(fmt.Sprintf("## %s\n\n", providerTitle(p)))
		for _, t := range list {
			sb.WriteString(generateToolMarkdown(t.Tool, c))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func providerTitle(provider string) string {
	switch provider {
	case google_tools.ProviderName:
		return "Google Workspace Tools"
	case memory_tools.ProviderName:
		return "Memory Tools"
	default:
		return "Other"
	}
}

func generateToolMarkdown(tool mcp.Tool, c *classifier.Classifier) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("### %s\n\n", tool.Name))

	if tool.Description != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", tool.Description))
	}

	decision := c.Explain(tool.Name, backends.CapabilityFromAnnotations(tool.Annotations))
	sb.WriteString(fmt.Sprintf("**Category:** `%s` (by %s)\n\n", decision.Category, decision.Source))

	if len(tool.InputSchema.Properties) > 0 {
		sb.WriteString("**Arguments:**\n")

		propNames := make([]string, 0, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)

		for _, name := range propNames {
			propMap, ok := tool.InputSchema.Properties[name].(map[string]any)
			if !ok {
				continue
			}

			requiredStr := "optional"
			if contains(tool.InputSchema.Required, name) {
				requiredStr = "required"
			}

			sb.WriteString(fmt.Sprintf("- `%s` (%s): ", name, requiredStr))
			if desc, ok := propMap["description"].(string); ok {
				sb.WriteString(desc)
			} else {
				sb.WriteString(fmt.Sprintf("%s parameter", getPropertyType(propMap)))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
