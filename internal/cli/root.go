package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/alexanderramin/programs/internal/app"
	"github.com/alexanderramin/programs/internal/config"
	"github.com/alexanderramin/programs/internal/domain"
)

// App holds what the commands need. Engine is opened lazily from the
// loaded config unless a caller sets it up front.
type App struct {
	Viper  *viper.Viper
	Engine *app.Engine

	// IsInteractive reports whether confirmations can be asked on stdin.
	IsInteractive func() bool
	// Confirm asks a yes/no question. Defaults to a huh confirm form.
	Confirm func(title string) (bool, error)

	owned bool
}

// NewRootCmd creates the top-level "programs" command and registers all
// subcommands against the provided App.
func NewRootCmd(a *App) *cobra.Command {
	if a.Viper == nil {
		a.Viper = config.New()
	}
	var cfgFile string

	root := &cobra.Command{
		Use:           "programs",
		Short:         "Program allocation and completion engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cfgFile)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml)")
	root.PersistentFlags().String("db", "", "SQLite database path")
	root.PersistentFlags().String("redis", "", "Redis address for flags and locks")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	bindFlags(a.Viper, root.PersistentFlags(), map[string]string{
		"db":        "db.path",
		"redis":     "redis.addr",
		"log-level": "log.level",
	})

	root.AddCommand(
		newProgramCmd(a),
		newItemCmd(a),
		newAllocationCmd(a),
		newCompletionCmd(a),
		newCohortCmd(a),
		newImportCmd(a),
		newStatusCmd(a),
		newSyncCmd(a),
		newCronCmd(a),
		newServeCmd(a),
	)

	return root
}

// bindFlags maps flag names to config keys so a set flag overrides the
// file and environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func (a *App) open(cfgFile string) error {
	if a.Engine != nil {
		return nil
	}
	cfg, err := config.Load(a.Viper, cfgFile)
	if err != nil {
		return err
	}
	e, err := app.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	a.Engine = e
	a.owned = true
	return nil
}

func (a *App) close() error {
	if !a.owned || a.Engine == nil {
		return nil
	}
	err := a.Engine.Close()
	a.Engine = nil
	a.owned = false
	return err
}

func (a *App) confirm(title string) (bool, error) {
	if a.Confirm != nil {
		return a.Confirm(title)
	}
	if a.IsInteractive == nil || !a.IsInteractive() {
		return false, errors.New("confirmation required: rerun with --yes")
	}
	return confirmForm(title)
}

// resolveProgram accepts a numeric program id or an idnumber.
func resolveProgram(ctx context.Context, a *App, input string) (*domain.Program, error) {
	if input == "" {
		return nil, fmt.Errorf("program is required")
	}
	if id, err := strconv.ParseInt(input, 10, 64); err == nil && id > 0 {
		p, err := a.Engine.Programs.Get(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	p, err := a.Engine.Programs.GetByIDNumber(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", input, err)
	}
	return p, nil
}

func parseID(name, input string) (int64, error) {
	id, err := strconv.ParseInt(input, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, input)
	}
	return id, nil
}

func parseIDs(name string, inputs []string) ([]int64, error) {
	ids := make([]int64, 0, len(inputs))
	for _, s := range inputs {
		id, err := parseID(name, s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339. Empty input yields nil.
func parseDate(flag, input string) (*time.Time, error) {
	if input == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", input); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: use YYYY-MM-DD or RFC3339", flag, input)
	}
	t = t.UTC()
	return &t, nil
}

func (a *App) now() time.Time {
	return time.Now().UTC()
}
