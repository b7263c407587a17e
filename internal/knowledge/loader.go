// Package knowledge loads, validates and serves knowledge bases.
//
// A knowledge base is read from JSON or YAML, checked against an embedded
// JSON Schema, then checked for referential integrity before an immutable
// domain.KnowledgeBase is built. Every failure is reported as a
// *domain.LoadError and no partial knowledge base is ever returned.
package knowledge

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/symptom-expert-server/internal/domain"
)

// DefaultConfidence is applied to rules that do not declare a confidence.
const DefaultConfidence = 0.5

const schemaURL = "https://symptom-expert.local/schema/knowledge_base.json"

//go:embed schema/knowledge_base.schema.json
var schemaDocument []byte

//go:embed data/default_knowledge_base.json
var defaultDocument []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// Format is a knowledge-base serialisation format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml and yml, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported knowledge base format %q", s)
	}
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer knowledge base format from %q", path)
	}
	return ParseFormat(ext)
}

// document mirrors the on-disk shape. Confidence is a pointer so that an
// absent value can be told apart from an explicit zero.
type document struct {
	Rules         []documentRule                  `json:"rules"`
	Symptoms      []string                        `json:"symptoms"`
	Diagnoses     []string                        `json:"diagnoses"`
	Categories    []domain.Category               `json:"categories"`
	DiagnosesMeta map[string]domain.DiagnosisMeta `json:"diagnoses_meta"`
}

type documentRule struct {
	ID          string   `json:"id"`
	Diagnosis   string   `json:"diagnosis"`
	AllOf       []string `json:"all_of"`
	AnyOf       []string `json:"any_of"`
	Confidence  *float64 `json:"confidence"`
	Explanation string   `json:"explanation"`
}

// Loader parses knowledge bases. It is safe for concurrent use.
type Loader struct {
	logger            *logrus.Logger
	defaultConfidence float64
}

// NewLoader creates a loader. A defaultConfidence outside (0, 1] falls back
// to DefaultConfidence.
func NewLoader(logger *logrus.Logger, defaultConfidence float64) *Loader {
	if defaultConfidence <= 0 || defaultConfidence > 1 {
		defaultConfidence = DefaultConfidence
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Loader{
		logger:            logger,
		defaultConfidence: defaultConfidence,
	}
}

// LoadFile reads a knowledge base from disk, choosing the format from the
// file extension.
func (l *Loader) LoadFile(path string) (*domain.KnowledgeBase, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, domain.NewLoadError(path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewLoadError(path, err)
	}

	return l.Parse(raw, format, path)
}

// Load reads a whole knowledge base from r.
func (l *Loader) Load(r io.Reader, format Format, source string) (*domain.KnowledgeBase, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.NewLoadError(source, err)
	}
	return l.Parse(raw, format, source)
}

// Parse decodes, validates and indexes raw knowledge-base content.
func (l *Loader) Parse(raw []byte, format Format, source string) (*domain.KnowledgeBase, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, domain.NewLoadError(source, errors.New("empty document"))
	}

	jsonRaw := raw
	if format == FormatYAML {
		converted, err := yamlToJSON(raw)
		if err != nil {
			return nil, domain.NewLoadError(source, err)
		}
		jsonRaw = converted
	} else if format != FormatJSON {
		return nil, domain.NewLoadError(source, fmt.Errorf("unsupported knowledge base format %q", format))
	}

	if err := validateSchema(jsonRaw); err != nil {
		return nil, domain.NewLoadError(source, err)
	}

	var doc document
	if err := json.Unmarshal(jsonRaw, &doc); err != nil {
		return nil, domain.NewLoadError(source, fmt.Errorf("decoding knowledge base: %w", err))
	}

	data := l.toData(doc)
	if err := ValidateData(data); err != nil {
		return nil, domain.NewLoadError(source, err)
	}

	for _, r := range data.Rules {
		if len(r.AllOf) == 0 && len(r.AnyOf) == 0 {
			l.logger.WithFields(logrus.Fields{
				"source":  source,
				"rule_id": r.ID,
			}).Warn("Rule has no conditions and always applies")
		}
	}

	kb := domain.NewKnowledgeBase(data)
	l.logger.WithFields(logrus.Fields{
		"source":      source,
		"rules":       len(data.Rules),
		"symptoms":    len(data.Symptoms),
		"diagnoses":   len(data.Diagnoses),
		"fingerprint": kb.Fingerprint()[:12],
	}).Info("Knowledge base loaded")

	return kb, nil
}

func (l *Loader) toData(doc document) domain.KnowledgeBaseData {
	data := domain.KnowledgeBaseData{
		Rules:         make([]domain.Rule, 0, len(doc.Rules)),
		Symptoms:      doc.Symptoms,
		Diagnoses:     doc.Diagnoses,
		Categories:    doc.Categories,
		DiagnosesMeta: doc.DiagnosesMeta,
	}

	for _, r := range doc.Rules {
		confidence := l.defaultConfidence
		if r.Confidence != nil {
			confidence = *r.Confidence
		}
		data.Rules = append(data.Rules, domain.Rule{
			ID:          r.ID,
			Diagnosis:   r.Diagnosis,
			AllOf:       r.AllOf,
			AnyOf:       r.AnyOf,
			Confidence:  confidence,
			Explanation: r.Explanation,
		})
	}

	return data
}

// ValidateData checks the referential integrity of a knowledge base: unique
// symptom and diagnosis codes, unique non-empty rule ids, confidences in
// [0,1], and rules that only reference declared codes. All problems are
// reported together.
func ValidateData(data domain.KnowledgeBaseData) error {
	var errs []error

	symptoms := domain.NewSymptomSet()
	for _, code := range data.Symptoms {
		if symptoms.Has(code) {
			errs = append(errs, fmt.Errorf("duplicate symptom %q", code))
		}
		symptoms.Add(code)
	}
	diagnoses := make(map[string]struct{}, len(data.Diagnoses))
	for _, d := range data.Diagnoses {
		if _, dup := diagnoses[d]; dup {
			errs = append(errs, fmt.Errorf("duplicate diagnosis %q", d))
		}
		diagnoses[d] = struct{}{}
	}

	seen := make(map[string]struct{}, len(data.Rules))
	for i, r := range data.Rules {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rule #%d: missing id", i))
			continue
		}
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("rule %s: duplicate id", r.ID))
		}
		seen[r.ID] = struct{}{}

		if r.Diagnosis == "" {
			errs = append(errs, fmt.Errorf("rule %s: missing diagnosis", r.ID))
		} else if _, ok := diagnoses[r.Diagnosis]; !ok {
			errs = append(errs, fmt.Errorf("rule %s: undeclared diagnosis %q", r.ID, r.Diagnosis))
		}

		if r.Confidence < 0 || r.Confidence > 1 {
			errs = append(errs, fmt.Errorf("rule %s: confidence %v outside [0,1]", r.ID, r.Confidence))
		}

		for _, code := range append(append([]string(nil), r.AllOf...), r.AnyOf...) {
			if !symptoms.Has(code) {
				errs = append(errs, fmt.Errorf("rule %s: undeclared symptom %q", r.ID, code))
			}
		}
	}

	return errors.Join(errs...)
}

// Default returns the knowledge base compiled into the binary.
func Default() (*domain.KnowledgeBase, error) {
	return NewLoader(nil, DefaultConfidence).Default()
}

// Default parses the embedded knowledge base with this loader's settings.
func (l *Loader) Default() (*domain.KnowledgeBase, error) {
	return l.Parse(defaultDocument, FormatJSON, domain.SourceEmbedded)
}

// Encode writes kb to w in the requested format.
func Encode(w io.Writer, kb *domain.KnowledgeBase, format Format) error {
	data := kb.Data()

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported knowledge base format %q", format)
	}
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	converted, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("converting yaml to json: %w", err)
	}
	return converted, nil
}

func validateSchema(raw []byte) error {
	schema, err := knowledgeBaseSchema()
	if err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parsing json: %w", err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func knowledgeBaseSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaDocument))
		if err != nil {
			schemaErr = fmt.Errorf("parse schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add resource: %w", err)
			return
		}

		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}
