// Package cli is the casfosctl command tree: taxonomy, faculty and asset
// listings against the records backend, a debounced live faculty search,
// and API key administration.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/casfos/registry/internal/auth/apikey"
	"github.com/casfos/registry/internal/backend"
	"github.com/casfos/registry/internal/filter"
	"github.com/casfos/registry/internal/listing"
	"github.com/casfos/registry/internal/record"
	"github.com/casfos/registry/internal/remotefilter"
	"github.com/casfos/registry/pkg/config"
	"github.com/casfos/registry/pkg/logger"
	"github.com/casfos/registry/pkg/postgres"
)

// Backend is the part of the records backend the CLI reads from.
// backend.Client implements it.
type Backend interface {
	AllFaculties(ctx context.Context) ([]record.Doc, error)
	FilterFaculties(ctx context.Context, p remotefilter.Payload) remotefilter.Outcome
	Faculty(ctx context.Context, id string) (record.Doc, error)
	AllAssets(ctx context.Context) ([]record.Doc, error)
	ReturnedForConditionChange(ctx context.Context, assetType, approved string) ([]record.Doc, error)
	Items(ctx context.Context, stage backend.Stage, q backend.ItemQuery) ([]record.Doc, error)
}

// KeyStore manages API keys. apikey.Validator implements it.
type KeyStore interface {
	CreateKey(ctx context.Context, name string, roles []apikey.Role, rateLimit int, expiresAt *time.Time) (string, error)
	ListKeys(ctx context.Context) ([]apikey.KeyInfo, error)
	RevokeKey(ctx context.Context, rawKey string) error
}

const (
	outputTable = "table"
	outputJSON  = "json"
)

type app struct {
	configPath string
	output     string
	mode       string

	in  io.Reader
	out io.Writer

	cfg     *config.Config
	backend Backend
	keys    KeyStore
	closers []func() error
}

// Option customizes the command tree, mainly for tests.
type Option func(*app)

// WithBackend replaces the HTTP backend client.
func WithBackend(b Backend) Option {
	return func(a *app) { a.backend = b }
}

// WithKeyStore replaces the Postgres-backed key store.
func WithKeyStore(k KeyStore) Option {
	return func(a *app) { a.keys = k }
}

// WithIO sets the input read by watch and the writer all output goes to.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *app) {
		a.in = in
		a.out = out
	}
}

// New builds the casfosctl root command.
func New(opts ...Option) *cobra.Command {
	a := &app{in: os.Stdin, out: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:           "casfosctl <command> <subcommand> [flags]",
		Short:         "CASFOS faculty and asset registry",
		Long:          "Query the CASFOS faculty and asset registry and manage API keys.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: heredoc.Doc(`
			$ casfosctl taxonomy
			$ casfosctl faculty list --status serving --major Environment
			$ casfosctl faculty watch --mode remote
			$ casfosctl assets list --type Permanent --item chair
			$ casfosctl keys create --name desk --roles verifier
		`),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close()
		},
	}
	root.SetOut(a.out)
	root.SetIn(a.in)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to config file")
	flags.StringVarP(&a.output, "output", "o", outputTable, "output format: table or json")
	flags.StringVar(&a.mode, "mode", "", "filter mode: local or remote (default from config)")

	root.AddCommand(
		taxonomyCommand(a),
		facultyCommand(a),
		assetsCommand(a),
		keysCommand(a),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	ctx, cancel := signalContext()
	defer cancel()
	if err := New().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) setup() error {
	switch a.output {
	case outputTable, outputJSON:
	default:
		return fmt.Errorf("unknown output format %q (want table or json)", a.output)
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, "text")

	if a.backend == nil {
		a.backend = backend.New(cfg.Backend, nil)
	}
	return nil
}

func (a *app) close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// keyStore connects to Postgres on first use.
func (a *app) keyStore(ctx context.Context) (KeyStore, error) {
	if a.keys != nil {
		return a.keys, nil
	}
	db, err := postgres.New(a.cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	v := apikey.NewValidator(db)
	if err := v.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	a.keys = v
	return v, nil
}

func (a *app) listMode() (listing.Mode, error) {
	return listing.ParseMode(a.mode, listing.Mode(a.cfg.Search.DefaultMode))
}

func (a *app) sorter() (*filter.Sorter, error) {
	return filter.NewSorter(a.cfg.Search.SortLocale)
}

func (a *app) facultySource(mode listing.Mode) (listing.Source[filter.FacultyCriteria], error) {
	sorter, err := a.sorter()
	if err != nil {
		return nil, err
	}
	if mode == listing.ModeRemote {
		return listing.RemoteSource{
			Backend: a.backend,
			Load:    a.backend.AllFaculties,
			Sorter:  sorter,
			SortKey: filter.FacultySortKey,
		}, nil
	}
	return listing.LocalSource[filter.FacultyCriteria]{
		Load:    a.backend.AllFaculties,
		Sorter:  sorter,
		SortKey: filter.FacultySortKey,
	}, nil
}

func (a *app) assetSource() (listing.Source[filter.AssetCriteria], error) {
	sorter, err := a.sorter()
	if err != nil {
		return nil, err
	}
	return listing.LocalSource[filter.AssetCriteria]{
		Load:    a.backend.AllAssets,
		Sorter:  sorter,
		SortKey: filter.AssetSortKey,
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
