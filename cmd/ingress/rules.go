package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/eagraf/bookstore-ingress/internal/ingress/config"
	"github.com/eagraf/bookstore-ingress/internal/ingress/reverse_proxy"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate the config and print the rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rules, err := reverse_proxy.NewRuleSetFromConfig(cfg, log)
		if err != nil {
			return err
		}
		return printRules(cmd.OutOrStdout(), cfg, rules)
	},
}

func printRules(out io.Writer, cfg *config.IngressConfig, rules *reverse_proxy.RuleSet) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tMATCHER\tUPSTREAM\tREWRITE ORIGIN\tVERIFY TLS")
	for i, route := range rules.Routes() {
		rule := cfg.Rules[i]
		matcher := rule.Matcher
		if rule.IsFallback() {
			matcher = "(fallback)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%t\n", i, route.Name, matcher, route.Upstream(), rule.RewriteOrigin, rule.VerifyUpstreamIdentity())
	}
	return w.Flush()
}
