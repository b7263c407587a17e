package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/symptom-expert-server/internal/database"
	"github.com/symptom-expert-server/internal/domain"
	"github.com/symptom-expert-server/internal/knowledge"
)

// KnowledgeBaseRepository stores named knowledge bases in PostgreSQL
type KnowledgeBaseRepository struct {
	db  *database.DB
	log *logrus.Logger
}

// NewKnowledgeBaseRepository creates a new knowledge base repository
func NewKnowledgeBaseRepository(db *database.DB, logger *logrus.Logger) *KnowledgeBaseRepository {
	return &KnowledgeBaseRepository{
		db:  db,
		log: logger,
	}
}

// Save replaces the snapshot called name with kb in a single transaction
func (r *KnowledgeBaseRepository) Save(ctx context.Context, name string, kb *domain.KnowledgeBase) error {
	data := kb.Data()

	categoriesJSON, err := json.Marshal(nonNilCategories(data.Categories))
	if err != nil {
		return fmt.Errorf("marshaling categories: %w", err)
	}
	metaJSON, err := json.Marshal(nonNilMeta(data.DiagnosesMeta))
	if err != nil {
		return fmt.Errorf("marshaling diagnoses metadata: %w", err)
	}

	err = r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO knowledge_bases (name, fingerprint, categories, diagnoses_meta)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET
				fingerprint = EXCLUDED.fingerprint,
				categories = EXCLUDED.categories,
				diagnoses_meta = EXCLUDED.diagnoses_meta,
				updated_at = NOW()`,
			name, kb.Fingerprint(), categoriesJSON, metaJSON)
		if err != nil {
			return fmt.Errorf("upserting knowledge base: %w", err)
		}

		for _, table := range []string{"kb_rules", "kb_symptoms", "kb_diagnoses"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE kb_name = $1", name); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}

		if err := copyCodes(ctx, tx, "kb_symptoms", name, data.Symptoms); err != nil {
			return err
		}
		if err := copyCodes(ctx, tx, "kb_diagnoses", name, data.Diagnoses); err != nil {
			return err
		}

		rows := make([][]any, 0, len(data.Rules))
		for i, rule := range data.Rules {
			rows = append(rows, []any{
				name, i, rule.ID, rule.Diagnosis,
				nonNilCodes(rule.AllOf), nonNilCodes(rule.AnyOf),
				rule.Confidence, rule.Explanation,
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"kb_rules"},
			[]string{"kb_name", "position", "rule_id", "diagnosis", "all_of", "any_of", "confidence", "explanation"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copying rules: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"name":  name,
			"error": err,
		}).Error("Failed to save knowledge base")
		return fmt.Errorf("saving knowledge base %s: %w", name, err)
	}

	r.log.WithFields(logrus.Fields{
		"name":        name,
		"rules":       len(data.Rules),
		"fingerprint": kb.Fingerprint(),
	}).Info("Knowledge base saved")

	return nil
}

// Load reads the snapshot called name. It returns an error wrapping
// domain.ErrNotFound when no such snapshot exists, and a *domain.LoadError
// when the stored content does not form a valid knowledge base.
func (r *KnowledgeBaseRepository) Load(ctx context.Context, name string) (*domain.KnowledgeBase, error) {
	var fingerprint string
	var categoriesJSON, metaJSON []byte

	err := r.db.Pool.QueryRow(ctx,
		`SELECT fingerprint, categories, diagnoses_meta FROM knowledge_bases WHERE name = $1`,
		name).Scan(&fingerprint, &categoriesJSON, &metaJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("knowledge base %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}

	var data domain.KnowledgeBaseData
	if err := json.Unmarshal(categoriesJSON, &data.Categories); err != nil {
		return nil, fmt.Errorf("unmarshaling categories: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &data.DiagnosesMeta); err != nil {
		return nil, fmt.Errorf("unmarshaling diagnoses metadata: %w", err)
	}

	if data.Symptoms, err = r.loadCodes(ctx, "kb_symptoms", name); err != nil {
		return nil, err
	}
	if data.Diagnoses, err = r.loadCodes(ctx, "kb_diagnoses", name); err != nil {
		return nil, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT rule_id, diagnosis, all_of, any_of, confidence, explanation
		FROM kb_rules
		WHERE kb_name = $1
		ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	data.Rules, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Rule, error) {
		var rule domain.Rule
		err := row.Scan(&rule.ID, &rule.Diagnosis, &rule.AllOf, &rule.AnyOf, &rule.Confidence, &rule.Explanation)
		return rule, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning rules: %w", err)
	}

	source := "postgres:" + name
	if err := knowledge.ValidateData(data); err != nil {
		return nil, domain.NewLoadError(source, err)
	}

	kb := domain.NewKnowledgeBase(data)
	if kb.Fingerprint() != fingerprint {
		r.log.WithFields(logrus.Fields{
			"name":     name,
			"stored":   fingerprint,
			"computed": kb.Fingerprint(),
		}).Warn("Knowledge base fingerprint changed in storage")
	}

	r.log.WithFields(logrus.Fields{
		"source": source,
		"rules":  len(data.Rules),
	}).Info("Knowledge base loaded")

	return kb, nil
}

// List returns every stored snapshot, most recently updated first
func (r *KnowledgeBaseRepository) List(ctx context.Context) ([]domain.SnapshotInfo, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT kb.name, kb.fingerprint, kb.updated_at,
			(SELECT COUNT(*) FROM kb_rules WHERE kb_name = kb.name)
		FROM knowledge_bases kb
		ORDER BY kb.updated_at DESC, kb.name`)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge bases: %w", err)
	}

	infos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SnapshotInfo, error) {
		var info domain.SnapshotInfo
		err := row.Scan(&info.Name, &info.Fingerprint, &info.UpdatedAt, &info.Rules)
		return info, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning knowledge bases: %w", err)
	}
	return infos, nil
}

// Delete removes a snapshot and its rows
func (r *KnowledgeBaseRepository) Delete(ctx context.Context, name string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM knowledge_bases WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("deleting knowledge base: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("knowledge base %s: %w", name, domain.ErrNotFound)
	}

	r.log.WithField("name", name).Info("Knowledge base deleted")
	return nil
}

// Close releases the connection pool
func (r *KnowledgeBaseRepository) Close() error {
	r.db.Close()
	return nil
}

func (r *KnowledgeBaseRepository) loadCodes(ctx context.Context, table, name string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT code FROM "+table+" WHERE kb_name = $1 ORDER BY position", name)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", table, err)
	}
	return codes, nil
}

func copyCodes(ctx context.Context, tx pgx.Tx, table, name string, codes []string) error {
	rows := make([][]any, 0, len(codes))
	for i, code := range codes {
		rows = append(rows, []any{name, i, code})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, []string{"kb_name", "position", "code"}, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copying %s: %w", table, err)
	}
	return nil
}

func nonNilCodes(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}

func nonNilCategories(c []domain.Category) []domain.Category {
	if c == nil {
		return []domain.Category{}
	}
	return c
}

func nonNilMeta(m map[string]domain.DiagnosisMeta) map[string]domain.DiagnosisMeta {
	if m == nil {
		return map[string]domain.DiagnosisMeta{}
	}
	return m
}
