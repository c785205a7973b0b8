package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexctl/internal/credentials"
	"github.com/dyike/cortexctl/internal/models"
	"github.com/dyike/cortexctl/internal/probe"
	"github.com/dyike/cortexctl/internal/resolver"
)

const customBaseURLKey = "custom_base_url"

func newCredentialsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage provider API keys",
		Long: `Manage the provider API keys and optional custom endpoint sent with each
analysis. Keys are kept in storage.json under the state directory.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show configured keys (masked)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a.printer.Credentials(a.credentialStore().Load(), a.cfg.StoragePath())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set SLOT [VALUE]",
		Short: "Set one key, prompting for it when VALUE is omitted",
		Long: `Set one credential slot. Known slots:
  ` + strings.Join(slotNames(), ", ") + `

An empty value clears the slot.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.ToLower(strings.TrimSpace(args[0]))
			var value string
			if len(args) == 2 {
				value = strings.TrimSpace(args[1])
			} else {
				if !validSlotKey(key) {
					return unknownSlotError(key)
				}
				v, err := PromptForSecret(credentials.Slot(key))
				if err != nil {
					return err
				}
				value = v
			}
			return a.setCredential(key, value)
		},
	})

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := PromptYesNo("Remove all stored credentials?", false)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			if err := a.credentialStore().Clear(); err != nil {
				return err
			}
			a.printer.Success("Credentials cleared")
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.AddCommand(clearCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "import-env",
		Short: "Copy keys from environment variables into the store",
		Long: `Copy keys from OPENAI_API_KEY, ANTHROPIC_API_KEY, DEEPSEEK_API_KEY and the
other conventional variables into the store. Slots with no variable set keep
their stored value.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env := credentials.FromEnv()
			set, err := a.credentialStore().Update(func(cur credentials.CredentialSet) credentials.CredentialSet {
				return credentials.Merge(cur, env)
			})
			if err != nil {
				return err
			}
			a.printer.Success("Imported keys from the environment")
			a.printer.Credentials(set, a.cfg.StoragePath())
			return nil
		},
	})

	var verify analyzeOptions
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Probe the configured models with the stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.AnalysisRequest{
				QuickThinkLLM:     firstNonEmpty(verify.quickModel, a.cfg.QuickThinkLLM),
				DeepThinkLLM:      firstNonEmpty(verify.deepModel, a.cfg.DeepThinkLLM),
				EmbeddingModel:    a.cfg.EmbeddingModel,
				QuickThinkBaseURL: verify.quickBaseURL,
				DeepThinkBaseURL:  verify.deepBaseURL,
			}.Normalize()
			_, resolutions := resolver.Annotate(req, a.credentialStore().Load())
			results := probe.New(probe.WithLogger(a.log)).Check(cmd.Context(), resolutions)
			a.printer.ProbeResults(results)
			for _, r := range results {
				if r.Outcome == probe.OutcomeFailed {
					return fmt.Errorf("%s model %s did not answer", r.Role, r.Model)
				}
			}
			return nil
		},
	}
	vf := verifyCmd.Flags()
	vf.StringVar(&verify.quickModel, "quick-model", "", "Quick-thinking model")
	vf.StringVar(&verify.deepModel, "deep-model", "", "Deep-thinking model")
	vf.StringVar(&verify.quickBaseURL, "quick-base-url", "", "Endpoint override for the quick-thinking model")
	vf.StringVar(&verify.deepBaseURL, "deep-base-url", "", "Endpoint override for the deep-thinking model")
	cmd.AddCommand(verifyCmd)

	return cmd
}

func (a *app) setCredential(key, value string) error {
	if !validSlotKey(key) {
		return unknownSlotError(key)
	}
	_, err := a.credentialStore().Update(func(cur credentials.CredentialSet) credentials.CredentialSet {
		return applyCredential(cur, key, value)
	})
	if err != nil {
		return err
	}
	if value == "" {
		a.printer.Success(key + " cleared")
		return nil
	}
	a.printer.Success(key + " saved")
	return nil
}

func applyCredential(set credentials.CredentialSet, key, value string) credentials.CredentialSet {
	if key == customBaseURLKey {
		set.CustomBaseURL = value
		return set
	}
	return set.Set(credentials.Slot(key), value)
}

func validSlotKey(key string) bool {
	if key == customBaseURLKey {
		return true
	}
	for _, s := range credentials.Slots {
		if string(s) == key {
			return true
		}
	}
	return false
}

func slotNames() []string {
	out := make([]string, 0, len(credentials.Slots)+1)
	for _, s := range credentials.Slots {
		out = append(out, string(s))
	}
	return append(out, customBaseURLKey)
}

func unknownSlotError(key string) error {
	return fmt.Errorf("unknown credential slot %q (known: %s)", key, strings.Join(slotNames(), ", "))
}
