// Command focusctl manages a running focusflow daemon through its control
// API.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/haukened/focusflow/internal/focus/common/log"
	"github.com/haukened/focusflow/internal/focus/domain"
	"github.com/haukened/focusflow/internal/focus/repos/blocklist"
)

const defaultAddr = "http://127.0.0.1:7300"

// confirm asks a yes/no question on the terminal.
var confirm = func(label string) (bool, error) {
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr    string
		verbose bool
	)
	root := &cobra.Command{
		Use:           "focusctl",
		Short:         "focusctl - control the focusflow blocking daemon",
		Long:          `focusctl edits the block list, schedules and usage of a running focusflow daemon.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				return nil
			}
			return log.Configure(log.Options{Env: "dev", Level: "debug"})
		},
	}
	root.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "control API base URL")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	connect := func() (*client, error) { return newClient(addr) }

	root.AddCommand(
		createStatusCommand(connect),
		createEnableCommand(connect),
		createDisableCommand(connect),
		createBlockCommand(connect),
		createUnblockCommand(connect),
		createScheduleCommand(connect),
		createRulesCommand(connect),
		createCheckCommand(connect),
		createTimezoneCommand(connect),
		createUsageCommand(connect),
		createImportCommand(connect),
	)
	return root
}

type connectFunc func() (*client, error)

func createStatusCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is up and blocking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			h, err := c.health(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

func createEnableCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Turn blocking on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			if _, err := c.setEnabled(cmd.Context(), true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Blocking enabled")
			return nil
		},
	}
}

func createDisableCommand(connect connectFunc) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Turn blocking off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				ok, err := confirm("Disable blocking for every site")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Blocking left on")
					return nil
				}
			}
			c, err := connect()
			if err != nil {
				return err
			}
			if _, err := c.setEnabled(cmd.Context(), false); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Blocking disabled")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func createBlockCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "block [domain]",
		Short: "Add a domain to the block list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			resp, err := c.block(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if resp.Ignored {
				printIgnored(cmd.OutOrStdout())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Blocked %s\n", args[0])
			return nil
		},
	}
}

func createUnblockCommand(connect connectFunc) *cobra.Command {
	var ruleID int
	cmd := &cobra.Command{
		Use:   "unblock [domain]",
		Short: "Remove a domain from the block list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ruleID < 0 {
				return fmt.Errorf("--rule-id must be positive")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			resp, err := c.unblock(cmd.Context(), args[0], ruleID)
			if err != nil {
				return err
			}
			if resp.Ignored {
				printIgnored(cmd.OutOrStdout())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unblocked %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&ruleID, "rule-id", 0, "also drop this active rule if it still belongs to the domain")
	return cmd
}

func createScheduleCommand(connect connectFunc) *cobra.Command {
	var (
		alwaysOn   bool
		start, end string
	)
	cmd := &cobra.Command{
		Use:   "schedule [domain]",
		Short: "Set when a domain is blocked",
		Example: `  focusctl schedule reddit.com --always-on
  focusctl schedule youtube.com --start 09:00 --end 17:00
  focusctl schedule news.ycombinator.com --start 22:00 --end 06:00`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !alwaysOn && start == "" {
				return fmt.Errorf("either --always-on or --start and --end is required")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			s := domain.BlockSchedule{Enabled: true, AlwaysOn: alwaysOn, StartTime: start, EndTime: end}
			resp, err := c.setSchedule(cmd.Context(), args[0], s)
			if err != nil {
				return err
			}
			if resp.Ignored {
				printIgnored(cmd.OutOrStdout())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule for %s set to %s\n", args[0], describeSchedule(s))
			return nil
		},
	}
	cmd.Flags().BoolVar(&alwaysOn, "always-on", false, "block at all times")
	cmd.Flags().StringVar(&start, "start", "", "window start, HH:MM")
	cmd.Flags().StringVar(&end, "end", "", "window end, HH:MM")
	cmd.MarkFlagsMutuallyExclusive("always-on", "start")
	cmd.MarkFlagsMutuallyExclusive("always-on", "end")
	cmd.MarkFlagsRequiredTogether("start", "end")
	return cmd
}

func createRulesCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List blocked domains with their schedules and rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			resp, err := c.rules(cmd.Context())
			if err != nil {
				return err
			}
			if resp.Ignored {
				printIgnored(cmd.OutOrStdout())
				return nil
			}
			return printRules(cmd.OutOrStdout(), resp.Rules)
		},
	}
}

func createCheckCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "check [domain]",
		Short: "Report whether a domain's schedule blocks it right now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			resp, err := c.check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if resp.Ignored || resp.ShouldBlock == nil {
				printIgnored(cmd.OutOrStdout())
				return nil
			}
			state := "not blocked"
			if *resp.ShouldBlock {
				state = "blocked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s right now\n", args[0], state)
			return nil
		},
	}
}

func createTimezoneCommand(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "timezone [iana-name]",
		Short: "Set the timezone schedules are evaluated in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			resp, err := c.setTimezone(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if resp.Ignored {
				printIgnored(cmd.OutOrStdout())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Timezone set to %s\n", args[0])
			return nil
		},
	}
}

func createUsageCommand(connect connectFunc) *cobra.Command {
	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show time spent per domain today and on previous days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			resp, err := c.usage(cmd.Context())
			if err != nil {
				return err
			}
			if resp.Ignored || resp.Usage == nil {
				printIgnored(cmd.OutOrStdout())
				return nil
			}
			return printUsage(cmd.OutOrStdout(), *resp.Usage)
		},
	}

	usageCmd.AddCommand(&cobra.Command{
		Use:   "add [domain] [seconds]",
		Short: "Record seconds spent on a domain today",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || seconds <= 0 {
				return fmt.Errorf("seconds must be a positive integer, got %q", args[1])
			}
			c, err := connect()
			if err != nil {
				return err
			}
			resp, err := c.addUsage(cmd.Context(), args[0], seconds)
			if err != nil {
				return err
			}
			if resp.Ignored || resp.Total == nil {
				printIgnored(cmd.OutOrStdout())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s today\n", args[0], formatSeconds(*resp.Total))
			return nil
		},
	})
	return usageCmd
}

func createImportCommand(connect connectFunc) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Block every domain in a hosts file or plain list (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := blocklist.ParseFormat(format)
			if err != nil {
				return err
			}
			in := cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()
				in = file
			}
			domains, err := blocklist.Parse(in, f, log.GetLogger())
			if err != nil {
				return err
			}
			if len(domains) == 0 {
				return fmt.Errorf("no valid domains found in %s", args[0])
			}

			c, err := connect()
			if err != nil {
				return err
			}
			for i, d := range domains {
				resp, err := c.block(cmd.Context(), d)
				if err != nil {
					return fmt.Errorf("imported %d of %d domains, %s failed: %w", i, len(domains), d, err)
				}
				if resp.Ignored {
					printIgnored(cmd.OutOrStdout())
					return nil
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d domains\n", len(domains))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(blocklist.FormatAuto), "list format: auto, hosts or plain")
	return cmd
}

func printIgnored(w io.Writer) {
	fmt.Fprintln(w, "Blocking is disabled; request ignored. Run 'focusctl enable' first.")
}
