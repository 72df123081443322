package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"cmdime/internal/runtime"
	"cmdime/internal/settings"
)

var (
	settingsPretty  bool
	excludeName     string
	excludeDisabled bool
	mapDisabled     bool
)

// controllerOptions supplies the collaborators for in-process controllers.
// Tests replace it with simulated devices.
var controllerOptions = func() runtime.Options { return runtime.Options{} }

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and edit the settings document",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current settings JSON",
	Args:  cobra.NoArgs,
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <json|@file|->",
	Short: "Replace the settings document",
	Long: `Replace the whole settings document.

The argument is the JSON text itself, @path to read it from a file, or - to
read it from stdin. The document is validated before anything is written;
an invalid document leaves the file untouched.

Examples:
  cmdimectl settings set '{"launch_at_startup":false}'
  cmdimectl settings set @backup.json
  cmdimectl settings get | jq '.launch_at_startup=true' | cmdimectl settings set -`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsSet,
}

var settingsReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Validate settings.json and print what a reload would load",
	Args:  cobra.NoArgs,
	RunE:  runSettingsReload,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), settings.NewStore(cfg.SettingsDir()).Path())
		return nil
	},
}

var settingsMapCmd = &cobra.Command{
	Use:   "map <input-key> <input-source-id>",
	Short: "Map a modifier tap to an input source",
	Long: `Set the input source selected when the modifier is tapped on its own.

Input keys are Command_L and Command_R. Mapping a key again replaces its
previous entry.

Example:
  cmdimectl settings map Command_R com.apple.inputmethod.Kotoeri.RomajiTyping.Japanese`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsMap,
}

var excludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Manage apps in which switching is suppressed",
}

var excludeAddCmd = &cobra.Command{
	Use:   "add <bundle-id>",
	Short: "Add or replace an excluded app",
	Args:  cobra.ExactArgs(1),
	RunE:  runExcludeAdd,
}

var excludeRemoveCmd = &cobra.Command{
	Use:     "remove <bundle-id>",
	Aliases: []string{"rm"},
	Short:   "Remove an excluded app",
	Args:    cobra.ExactArgs(1),
	RunE:    runExcludeRemove,
}

func init() {
	settingsGetCmd.Flags().BoolVar(&settingsPretty, "pretty", false, "indent the output")
	excludeAddCmd.Flags().StringVar(&excludeName, "name", "", "display name of the app")
	excludeAddCmd.Flags().BoolVar(&excludeDisabled, "disabled", false, "add the entry disabled")
	settingsMapCmd.Flags().BoolVar(&mapDisabled, "disabled", false, "add the mapping disabled")

	excludeCmd.AddCommand(excludeAddCmd, excludeRemoveCmd)
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd, settingsReloadCmd, settingsPathCmd, settingsMapCmd, excludeCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	ctl, err := openController(controllerOptions(), false)
	if err != nil {
		return err
	}
	defer ctl.Shutdown()

	doc, err := ctl.Settings()
	if err != nil {
		return err
	}
	return printDocument(cmd.OutOrStdout(), doc)
}

func printDocument(w io.Writer, doc settings.Document) error {
	if !settingsPretty {
		_, err := fmt.Fprintln(w, doc.String())
		return err
	}
	data, err := doc.Indented()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// readDocumentArg resolves the set argument to JSON text.
func readDocumentArg(cmd *cobra.Command, arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", arg[1:], err)
		}
		return string(data), nil
	default:
		return arg, nil
	}
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	raw, err := readDocumentArg(cmd, args[0])
	if err != nil {
		return err
	}

	ctl, err := openController(controllerOptions(), false)
	if err != nil {
		return err
	}
	defer ctl.Shutdown()

	if err := ctl.UpdateSettingsE(raw); err != nil {
		return fmt.Errorf("settings not changed: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", ctl.SettingsPath())
	return nil
}

func runSettingsReload(cmd *cobra.Command, args []string) error {
	ctl, err := openController(controllerOptions(), false)
	if err != nil {
		return err
	}
	defer ctl.Shutdown()

	if err := ctl.ReloadSettingsE(); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	doc, err := ctl.Settings()
	if err != nil {
		return err
	}
	return printDocument(cmd.OutOrStdout(), doc)
}

func runSettingsMap(cmd *cobra.Command, args []string) error {
	inputKey, source := args[0], args[1]
	if inputKey != settings.InputKeyCommandLeft && inputKey != settings.InputKeyCommandRight {
		return fmt.Errorf("unknown input key %q (want %s or %s)",
			inputKey, settings.InputKeyCommandLeft, settings.InputKeyCommandRight)
	}
	return editSettings(func(doc settings.Document) (settings.Document, error) {
		mappings := slices.DeleteFunc(doc.View().Mappings, func(m settings.KeyMapping) bool {
			return m.InputKey == inputKey
		})
		mappings = append(mappings, settings.KeyMapping{
			InputKey:     inputKey,
			OutputSource: source,
			Enabled:      !mapDisabled,
		})
		return doc.WithMappings(mappings)
	})
}

func runExcludeAdd(cmd *cobra.Command, args []string) error {
	bundleID := args[0]
	name := excludeName
	if name == "" {
		name = bundleID
	}
	return editSettings(func(doc settings.Document) (settings.Document, error) {
		return doc.WithExcludedApp(settings.AppInfo{
			Name:     name,
			BundleID: bundleID,
			Enabled:  !excludeDisabled,
		})
	})
}

func runExcludeRemove(cmd *cobra.Command, args []string) error {
	return editSettings(func(doc settings.Document) (settings.Document, error) {
		if !hasExcludedApp(doc, args[0]) {
			return settings.Document{}, fmt.Errorf("%s is not excluded", args[0])
		}
		return doc.WithoutExcludedApp(args[0])
	})
}

func hasExcludedApp(doc settings.Document, bundleID string) bool {
	for _, app := range doc.View().ExcludedApps {
		if app.BundleID == bundleID {
			return true
		}
	}
	return false
}

// editSettings applies edit to the current document and persists it.
func editSettings(edit func(settings.Document) (settings.Document, error)) error {
	ctl, err := openController(controllerOptions(), false)
	if err != nil {
		return err
	}
	defer ctl.Shutdown()

	doc, err := ctl.Settings()
	if err != nil {
		return err
	}
	next, err := edit(doc)
	if err != nil {
		return err
	}
	return ctl.UpdateSettings(next)
}
