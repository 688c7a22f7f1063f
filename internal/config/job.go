package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gonkalabs/sygfp-datafix/internal/audit"
	"github.com/gonkalabs/sygfp-datafix/internal/repair"
)

// Job lists what a run touches: the tables to repair and the entities to
// audit.
//
//	tables:
//	  - name: budget_engagements
//	    filter: numero=like.MIG-*
//	    fields: [objet, fournisseur]
//	audit:
//	  - name: engagements
//	    legacy: {table: EngagementAnterieur, filter: DateCreation IS NOT NULL}
//	    target: {table: budget_engagements}
type Job struct {
	Tables []repair.Table `yaml:"tables"`
	Audit  []audit.Pair   `yaml:"audit"`
}

// DefaultJob covers the records written by the legacy migration.
func DefaultJob() Job {
	return Job{
		Tables: []repair.Table{
			{
				Name:   "budget_engagements",
				Filter: "numero=like.MIG-*",
				Fields: []string{"objet", "fournisseur"},
			},
			{
				Name:   "ordonnancements",
				Filter: "legacy_import=eq.true",
				Fields: []string{"objet", "beneficiaire"},
			},
			{
				Name:   "budget_liquidations",
				Filter: "legacy_import=eq.true",
				Fields: []string{"observation", "motif_differe", "reference_facture", "rejection_reason"},
				// Not every deployment has all four columns.
				DiscoverFields: true,
			},
		},
		Audit: []audit.Pair{
			{
				Name:   "notes_sef",
				Legacy: audit.Side{Table: "NoteDG", Filter: "DateCreation IS NOT NULL"},
				Target: audit.Side{Table: "notes_sef"},
			},
			{
				Name:   "engagements",
				Legacy: audit.Side{Table: "EngagementAnterieur", Filter: "DateCreation IS NOT NULL"},
				Target: audit.Side{Table: "budget_engagements"},
			},
			{
				Name:   "liquidations",
				Legacy: audit.Side{Table: "Liquidation", Filter: "Date IS NOT NULL"},
				Target: audit.Side{Table: "budget_liquidations"},
			},
			{
				Name:   "ordonnancements",
				Legacy: audit.Side{Table: "Ordonnancement", Filter: "Date IS NOT NULL"},
				Target: audit.Side{Table: "ordonnancements"},
			},
		},
	}
}

// LoadJob reads a job file. An empty path returns DefaultJob.
func LoadJob(path string) (Job, error) {
	if path == "" {
		return DefaultJob(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("job: %w", err)
	}
	return ParseJob(raw)
}

// ParseJob decodes and validates a YAML job. Unknown keys are rejected so
// that a misspelt field list does not silently scan nothing.
func ParseJob(raw []byte) (Job, error) {
	var job Job
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("job: decode: %w", err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate checks that every table and audit pair is usable.
func (j Job) Validate() error {
	seen := map[string]bool{}
	for i, t := range j.Tables {
		if t.Name == "" {
			return fmt.Errorf("job: table %d has no name", i+1)
		}
		if len(t.Fields) == 0 {
			return fmt.Errorf("job: table %s has no fields", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("job: table %s listed twice", t.Name)
		}
		seen[t.Name] = true
	}
	for i, p := range j.Audit {
		if p.Name == "" || p.Legacy.Table == "" || p.Target.Table == "" {
			return fmt.Errorf("job: audit entry %d needs name, legacy.table and target.table", i+1)
		}
	}
	return nil
}

// Table returns the named table of the job.
func (j Job) Table(name string) (repair.Table, bool) {
	for _, t := range j.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return repair.Table{}, false
}
