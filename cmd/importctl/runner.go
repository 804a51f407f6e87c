package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/JonMunkholm/userimport/internal/core"
	"github.com/JonMunkholm/userimport/internal/logging"
	"github.com/JonMunkholm/userimport/internal/security"
	"github.com/JonMunkholm/userimport/internal/store/memory"
	"github.com/JonMunkholm/userimport/internal/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"
)

// importStore is what a CLI import needs from a backing store.
type importStore interface {
	core.IdentityStore
	core.AccessStore
	core.JobHistory
}

// Runner holds the command actions and their shared output.
type Runner struct {
	out    io.Writer
	logger *slog.Logger
}

// NewRunner writes command output to out and logs to stderr.
func NewRunner(out io.Writer) *Runner {
	return &Runner{
		out:    out,
		logger: logging.New(os.Stderr, "warn", "text"),
	}
}

func (r *Runner) setLogLevel(level string) {
	r.logger = logging.New(os.Stderr, level, "text")
}

func (r *Runner) writePlainln(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *Runner) openPostgres(ctx context.Context, dsn string, bcryptCost int) (*postgres.Store, func(), error) {
	if dsn == "" {
		return nil, nil, errors.New("database URL is not set; set DATABASE_URL or pass --database-url")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return postgres.New(pool, security.NewHasher(bcryptCost)), pool.Close, nil
}

func (r *Runner) openImportStore(ctx context.Context, cmd *cli.Command) (importStore, func(), error) {
	if cmd.Bool("dry-run") {
		st := memory.New()
		if g := cmd.String("group"); g != "" {
			st.AddGroup(g)
		}
		return st, func() {}, nil
	}
	return r.openPostgres(ctx, cmd.String("database-url"), cmd.Int("bcrypt-cost"))
}

// Run imports the file named by the first argument and prints progress and
// the final outcome. A job that does not complete is reported as an error.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("file argument is required")
	}
	delim, err := core.ParseDelimiter(cmd.String("delimiter"), core.DelimiterComma)
	if err != nil {
		return err
	}
	encoding := cmd.String("encoding")
	if !core.IsSupportedEncoding(encoding) {
		return fmt.Errorf("%w: %q", core.ErrUnsupportedEncoding, encoding)
	}
	zones := core.NewZoneSet(cmd.StringSlice("timezones")...)
	if tz := cmd.String("default-timezone"); !core.IsKnownTimezone(tz, zones) {
		return fmt.Errorf("default timezone %q is not an accepted timezone", tz)
	}

	st, closeStore, err := r.openImportStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	groupID := cmd.String("group")
	if groupID != "" {
		ok, err := st.GroupExists(ctx, groupID)
		if err != nil {
			return fmt.Errorf("check group: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrGroupNotFound, groupID)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	settings := core.DefaultSettings()
	settings.Reconciler.Locales = core.NewLocaleSet(cmd.StringSlice("locales")...)
	settings.Reconciler.Zones = zones
	settings.Reconciler.DefaultLocale = cmd.String("default-locale")
	settings.Reconciler.DefaultTimezone = cmd.String("default-timezone")
	settings.DefaultDelimiter = delim
	settings.Encoding = encoding
	settings.MaxConcurrent = 1

	svc := core.NewService(st, core.NewFileReportSink(cmd.String("report-dir")), settings,
		core.WithHistory(st),
		core.WithLogger(r.logger),
	)

	jobID, err := svc.StartImport(ctx, core.ImportRequest{
		FileName:  filepath.Base(path),
		Source:    f,
		Size:      size,
		Delimiter: delim,
		GroupID:   groupID,
	})
	if err != nil {
		return errors.New(core.FormatUserError(err))
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	go func() {
		<-sigCtx.Done()
		_ = svc.CancelImport(jobID)
	}()

	asJSON := cmd.Bool("json")
	if ch, err := svc.SubscribeProgress(jobID); err == nil {
		last := 0
		for p := range ch {
			if asJSON || p.Phase.Terminal() || p.CurrentRow <= last {
				continue
			}
			last = p.CurrentRow
			r.writePlainln("Importing row %d", p.CurrentRow)
		}
	}

	res, err := svc.GetResult(context.Background(), jobID)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		r.printResult(svc, res, cmd.Bool("dry-run"))
	}

	if res.Phase != core.PhaseComplete {
		return fmt.Errorf("import %s: %s", res.Phase, res.Error)
	}
	return nil
}

func (r *Runner) printResult(svc *core.Service, res *core.ImportResult, dryRun bool) {
	r.writePlainln("%s", res.Message)
	r.writePlainln("  Rows:    %d", res.RowsProcessed)
	r.writePlainln("  Created: %d", res.Created)
	r.writePlainln("  Updated: %d", res.Updated)
	r.writePlainln("  Failed:  %d", len(res.FailedRows))
	for _, fr := range res.FailedRows {
		r.writePlainln("    line %d: %s", fr.LineNumber, fr.Reason)
	}
	if res.ReportFile != "" {
		if path, _, err := svc.ReportPath(context.Background(), res.JobID); err == nil {
			r.writePlainln("Failed rows written to %s", path)
		}
	}
	if res.RedirectGroup != "" {
		r.writePlainln("Group: %s", res.RedirectGroup)
	}
	if dryRun {
		r.writePlainln("Dry run: no accounts were written to the database.")
	}
}

// Template prints the header row an import file must start with.
func (r *Runner) Template(ctx context.Context, cmd *cli.Command) error {
	delim, err := core.ParseDelimiter(cmd.String("delimiter"), core.DelimiterComma)
	if err != nil {
		return err
	}
	w := csv.NewWriter(r.out)
	w.Comma = delim
	if err := w.Write(core.Columns); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (r *Runner) MigrateUp(ctx context.Context, cmd *cli.Command) error {
	if err := postgres.Migrate(cmd.String("database-url"), "up"); err != nil {
		return err
	}
	r.writePlainln("✓ Migrations applied")
	return nil
}

func (r *Runner) MigrateDown(ctx context.Context, cmd *cli.Command) error {
	if err := postgres.Migrate(cmd.String("database-url"), "down"); err != nil {
		return err
	}
	r.writePlainln("✓ Migrations rolled back")
	return nil
}

// GroupAdd creates a group; an existing group is left as is.
func (r *Runner) GroupAdd(ctx context.Context, cmd *cli.Command) error {
	st, closeStore, err := r.openPostgres(ctx, cmd.String("database-url"), 0)
	if err != nil {
		return err
	}
	defer closeStore()

	id := cmd.String("id")
	label := cmd.String("label")
	if label == "" {
		label = id
	}
	if err := st.EnsureGroup(ctx, id, label); err != nil {
		return err
	}
	r.writePlainln("✓ Group %s ready", id)
	return nil
}

func (r *Runner) GroupGrant(ctx context.Context, cmd *cli.Command) error {
	st, closeStore, err := r.openPostgres(ctx, cmd.String("database-url"), 0)
	if err != nil {
		return err
	}
	defer closeStore()

	group, account, perm := cmd.String("group"), cmd.String("account"), cmd.String("permission")
	if err := st.GrantGroupPermission(ctx, group, account, perm); err != nil {
		return err
	}
	r.writePlainln("✓ Granted %q on %s to %s", perm, group, account)
	return nil
}

func (r *Runner) RoleGrant(ctx context.Context, cmd *cli.Command) error {
	st, closeStore, err := r.openPostgres(ctx, cmd.String("database-url"), 0)
	if err != nil {
		return err
	}
	defer closeStore()

	account, role := cmd.String("account"), cmd.String("role")
	if err := st.GrantRole(ctx, account, role); err != nil {
		return err
	}
	r.writePlainln("✓ Granted role %q to %s", role, account)
	return nil
}
