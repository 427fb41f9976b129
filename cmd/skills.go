package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/erp-copilot/internal/skills"
)

var skillsTenant string

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List the skill catalogue",
	Long: `Lists every catalogued skill and the integrations it needs. With --tenant
only the skills enabled for that tenant are listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var list []skills.Skill
		if skillsTenant == "" {
			catalog, err := newCatalog(cfg)
			if err != nil {
				return err
			}
			list = catalog.All()
		} else {
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			toolset, err := a.loader.Load(cmd.Context(), skillsTenant, cliUser())
			if err != nil {
				return err
			}
			list = toolset.Skills()
		}

		if len(list) == 0 {
			fmt.Println("No skills enabled. Configure an integration with `erpcopilot tenant add`.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tREQUIRES\tDESCRIPTION")
		for _, s := range list {
			requires := make([]string, len(s.Requires))
			for i, in := range s.Requires {
				requires[i] = string(in)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, strings.Join(requires, ","), firstSentence(s.Description))
		}
		return w.Flush()
	},
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}

func init() {
	skillsCmd.Flags().StringVar(&skillsTenant, "tenant", "", "Only list skills enabled for this tenant")
	rootCmd.AddCommand(skillsCmd)
}
