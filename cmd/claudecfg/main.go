package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"claudecfg/internal/app"
	"claudecfg/internal/config"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ex, ok := err.(ExitCoder); ok {
			os.Exit(ex.ExitCode())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var projectRoot string
	var jsonOutput bool

	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{
			ConfigPath:  configPath,
			ProjectRoot: projectRoot,
			Version:     config.Version,
		})
	}

	cmd := &cobra.Command{
		Use:           "claudecfg",
		Short:         "Layered settings manager for Claude Code configuration files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to tool config file")
	cmd.PersistentFlags().StringVar(&projectRoot, "project", "", "project root (default: walk up from cwd)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(newShowCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newGetCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newSetCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newUnsetCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newEffectiveCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newInitCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newWatchCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newBackupCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDoctorCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newVersionCmd(&jsonOutput))

	return cmd
}

func newShowCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var scopeName string
	cmd := &cobra.Command{
		Use:     "show",
		Aliases: []string{"cat", "dump"},
		Short:   "Show a scope's settings document",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			sc, err := svc.ParseScope(scopeName)
			if err != nil {
				return err
			}
			return printDoc(svc.Settings(sc))
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "user", "scope: user|shared|local|user-mcp|mcp")
	return cmd
}

func newGetCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var scopeName string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read one setting (dot-delimited keys address nested values)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			sc, err := svc.ParseScope(scopeName)
			if err != nil {
				return err
			}
			value, ok, err := svc.GetSetting(sc, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return &exitError{code: 2, msg: fmt.Sprintf("SET_KEY_MISSING: %q not set in scope %s", args[0], sc.Kind)}
			}
			if *jsonOutput {
				return print(true, map[string]any{"key": args[0], "value": value}, "")
			}
			return printDoc(value)
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "user", "scope: user|shared|local|user-mcp|mcp")
	return cmd
}

func newSetCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var scopeName string
	var rawString bool
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one setting, creating intermediate objects as needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			sc, err := svc.ParseScope(scopeName)
			if err != nil {
				return err
			}
			value := parseValue(args[1], rawString)
			if err := svc.UpdateSetting(sc, args[0], value); err != nil {
				return err
			}
			return print(*jsonOutput,
				map[string]any{"scope": sc.Kind.String(), "key": args[0], "value": value},
				fmt.Sprintf("set %s in scope %s", args[0], sc.Kind))
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "user", "scope: user|shared|local|user-mcp|mcp")
	cmd.Flags().BoolVar(&rawString, "string", false, "store the value as a string without JSON interpretation")
	return cmd
}

func newUnsetCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var scopeName string
	cmd := &cobra.Command{
		Use:     "unset <key>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove one setting",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			sc, err := svc.ParseScope(scopeName)
			if err != nil {
				return err
			}
			if err := svc.UnsetSetting(sc, args[0]); err != nil {
				return err
			}
			return print(*jsonOutput,
				map[string]string{"scope": sc.Kind.String(), "key": args[0]},
				fmt.Sprintf("unset %s in scope %s", args[0], sc.Kind))
		},
	}
	cmd.Flags().StringVar(&scopeName, "scope", "user", "scope: user|shared|local|user-mcp|mcp")
	return cmd
}

func newEffectiveCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "effective",
		Aliases: []string{"merged"},
		Short:   "Show the merged project view (local overrides shared)",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			eff, err := svc.EffectiveSettings()
			if err != nil {
				return err
			}
			return printDoc(eff)
		},
	}
}

func newInitCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var noGitignore bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Make a directory a project root (.claude/settings.json)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			} else if dir, err = os.Getwd(); err != nil {
				return err
			}
			path, err := svc.InitProject(dir)
			if err != nil {
				return err
			}
			if !noGitignore {
				if err := svc.EnsureLocalIgnored(dir); err != nil {
					return err
				}
			}
			return print(*jsonOutput, map[string]string{"created": path}, "initialized "+path)
		},
	}
	cmd.Flags().BoolVar(&noGitignore, "no-gitignore", false, "skip adding settings.local.json to .claude/.gitignore")
	return cmd
}

func newWatchCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch settings files and report external changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			w, err := svc.WatchAll()
			if err != nil {
				return err
			}
			defer w.Close()

			for _, path := range w.Watching() {
				fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", path)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
}

func newBackupCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	backupCmd := &cobra.Command{Use: "backup", Aliases: []string{"bak"}, Short: "Manage settings backups"}

	createCmd := &cobra.Command{
		Use:     "create",
		Aliases: []string{"new"},
		Short:   "Snapshot all reachable settings files",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			snap, err := svc.BackupCreate()
			if err != nil {
				return err
			}
			return print(*jsonOutput, snap,
				fmt.Sprintf("created %s (%d files, %d bytes)", snap.Name, len(snap.Meta.Entries), snap.Size))
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			snaps, err := svc.BackupList()
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, snaps, "")
			}
			if len(snaps) == 0 {
				fmt.Println("no backups")
				return nil
			}
			for _, snap := range snaps {
				fmt.Printf("- %s created=%s files=%d version=%s\n",
					snap.Name, snap.Meta.CreatedAt, len(snap.Meta.Entries), snap.Meta.Version)
			}
			return nil
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Restore a backup over the current settings files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if err := svc.BackupRestore(args[0]); err != nil {
				return err
			}
			return print(*jsonOutput, map[string]string{"restored": args[0]}, "restored "+args[0])
		},
	}

	backupCmd.AddCommand(createCmd, listCmd, restoreCmd)
	return backupCmd
}

func newDoctorCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag", "checkup"},
		Short:   "Run diagnostics over config and settings files",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report := svc.DoctorRun()
			if *jsonOutput {
				return print(true, report, "")
			}
			if report.Healthy {
				fmt.Println("healthy")
			} else {
				fmt.Println("issues found:")
			}
			for _, f := range report.Findings {
				if report.Healthy && f.Level == "info" {
					continue
				}
				fmt.Printf("- [%s] %s\n", f.Code, f.Message)
			}
			if !report.Healthy {
				return &exitError{code: 2, msg: "DOC_UNHEALTHY: diagnostics reported errors"}
			}
			return nil
		},
	}
}

// parseValue interprets a CLI value as JSON when possible so numbers,
// booleans, arrays, and objects land typed in the document. Anything
// that does not parse is stored as a string.
func parseValue(raw string, rawString bool) any {
	if rawString {
		return raw
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}

func printDoc(doc any) error {
	blob, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(blob))
	return nil
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		return printDoc(payload)
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
