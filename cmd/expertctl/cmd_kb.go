package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/symptom-expert-server/internal/app"
	"github.com/symptom-expert-server/internal/domain"
	"github.com/symptom-expert-server/internal/kbstore"
	"github.com/symptom-expert-server/internal/knowledge"
)

// snapshotStore is what both the SQLite store and the Postgres repository offer.
type snapshotStore interface {
	domain.KnowledgeBaseStore
	List(ctx context.Context) ([]domain.SnapshotInfo, error)
	Delete(ctx context.Context, name string) error
}

var kbFlags struct {
	store  string
	format string
	out    string
}

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Validate knowledge bases and manage stored snapshots",
}

var kbValidateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a JSON or YAML knowledge base without storing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBValidate,
}

var kbExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the configured knowledge base as JSON or YAML",
	Args:  cobra.NoArgs,
	RunE:  runKBExport,
}

var kbPushCmd = &cobra.Command{
	Use:     "push NAME FILE",
	Aliases: []string{"import"},
	Short:   "Store a knowledge base file as a named snapshot",
	Args:    cobra.ExactArgs(2),
	RunE:    runKBPush,
}

var kbPullCmd = &cobra.Command{
	Use:   "pull NAME",
	Short: "Write a stored snapshot as JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBPull,
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	Args:  cobra.NoArgs,
	RunE:  runKBList,
}

var kbDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove a stored snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBDelete,
}

var kbBackupCmd = &cobra.Command{
	Use:   "backup FILE",
	Short: "Export every SQLite snapshot into one JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBBackup,
}

var kbRestoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Import snapshots from a backup file, skipping names that exist",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBRestore,
}

func init() {
	pf := kbCmd.PersistentFlags()
	pf.StringVar(&kbFlags.store, "store", domain.SourceSQLite, "snapshot store: sqlite or postgres")
	pf.StringVar(&kbFlags.format, "format", "json", "output format: json or yaml")
	pf.StringVarP(&kbFlags.out, "out", "o", "", "output file (default stdout)")

	kbCmd.AddCommand(kbValidateCmd, kbExportCmd, kbPushCmd, kbPullCmd, kbListCmd, kbDeleteCmd, kbBackupCmd, kbRestoreCmd)
}

func openStore(ctx context.Context, cfg *domain.Config, loader *knowledge.Loader, logger *logrus.Logger) (snapshotStore, error) {
	switch kbFlags.store {
	case domain.SourceSQLite:
		return app.OpenSQLiteStore(cfg, loader, logger)
	case domain.SourcePostgres:
		return app.OpenRepository(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown store %q (want sqlite or postgres)", kbFlags.store)
	}
}

// output returns the destination for --out and a function closing it.
func output(cmd *cobra.Command) (io.Writer, func() error, error) {
	if kbFlags.out == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(kbFlags.out)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", kbFlags.out, err)
	}
	return f, f.Close, nil
}

func writeKnowledgeBase(cmd *cobra.Command, kb *domain.KnowledgeBase) error {
	format, err := knowledge.ParseFormat(kbFlags.format)
	if err != nil {
		return err
	}
	w, closeFn, err := output(cmd)
	if err != nil {
		return err
	}
	if err := knowledge.Encode(w, kb, format); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}

func runKBValidate(cmd *cobra.Command, args []string) error {
	_, logger, err := loadEnv()
	if err != nil {
		return err
	}

	kb, err := knowledge.NewLoader(logger, 0).LoadFile(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: valid\n", args[0])
	fmt.Fprintf(out, "  rules:       %d\n", len(kb.Rules()))
	fmt.Fprintf(out, "  symptoms:    %d\n", len(kb.Symptoms()))
	fmt.Fprintf(out, "  diagnoses:   %d\n", len(kb.Diagnoses()))
	fmt.Fprintf(out, "  fingerprint: %s\n", kb.Fingerprint())
	return nil
}

func runKBExport(cmd *cobra.Command, _ []string) error {
	cm, logger, err := loadEnv()
	if err != nil {
		return err
	}
	cfg := cm.GetConfig()

	kb, err := app.LoadKnowledgeBase(cmd.Context(), cfg, knowledge.NewLoader(logger, cfg.KnowledgeBase.DefaultConfidence), logger)
	if err != nil {
		return err
	}
	return writeKnowledgeBase(cmd, kb)
}

func runKBPush(cmd *cobra.Command, args []string) error {
	name, path := args[0], args[1]

	cm, logger, err := loadEnv()
	if err != nil {
		return err
	}
	cfg := cm.GetConfig()
	loader := knowledge.NewLoader(logger, cfg.KnowledgeBase.DefaultConfidence)

	kb, err := loader.LoadFile(path)
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), cfg, loader, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Save(cmd.Context(), name, kb); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s as %q in %s (%d rules, %s)\n",
		path, name, kbFlags.store, len(kb.Rules()), kb.Fingerprint()[:12])
	return nil
}

func runKBPull(cmd *cobra.Command, args []string) error {
	cm, logger, err := loadEnv()
	if err != nil {
		return err
	}
	cfg := cm.GetConfig()
	loader := knowledge.NewLoader(logger, cfg.KnowledgeBase.DefaultConfidence)

	store, err := openStore(cmd.Context(), cfg, loader, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	kb, err := store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeKnowledgeBase(cmd, kb)
}

func runKBList(cmd *cobra.Command, _ []string) error {
	cm, logger, err := loadEnv()
	if err != nil {
		return err
	}
	cfg := cm.GetConfig()

	store, err := openStore(cmd.Context(), cfg, knowledge.NewLoader(logger, 0), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	snapshots, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	writeSnapshotTable(cmd.OutOrStdout(), snapshots)
	return nil
}

func writeSnapshotTable(w io.Writer, snapshots []domain.SnapshotInfo) {
	if len(snapshots) == 0 {
		fmt.Fprintln(w, "No snapshots stored.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRULES\tFINGERPRINT\tUPDATED")
	for _, s := range snapshots {
		fp := s.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Name, s.Rules, fp, s.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func runKBDelete(cmd *cobra.Command, args []string) error {
	cm, logger, err := loadEnv()
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), cm.GetConfig(), knowledge.NewLoader(logger, 0), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q from %s\n", args[0], kbFlags.store)
	return nil
}

func openSQLite() (*kbstore.SQLiteStore, error) {
	cm, logger, err := loadEnv()
	if err != nil {
		return nil, err
	}
	cfg := cm.GetConfig()
	return app.OpenSQLiteStore(cfg, knowledge.NewLoader(logger, cfg.KnowledgeBase.DefaultConfidence), logger)
}

func runKBBackup(cmd *cobra.Command, args []string) error {
	store, err := openSQLite()
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("create %s: %w", args[0], err)
	}
	if err := store.ExportJSON(cmd.Context(), f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", args[0])
	return nil
}

func runKBRestore(cmd *cobra.Command, args []string) error {
	store, err := openSQLite()
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	imported, skipped, err := store.ImportJSON(cmd.Context(), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d snapshot(s), skipped %d existing\n", imported, skipped)
	return nil
}
