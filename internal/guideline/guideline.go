// Package guideline embeds the 2022 AHA/ASA spontaneous intracerebral
// hemorrhage guideline excerpts and the clinical-trial summaries that ground
// every generated narrative, and offers simple section search over them.
package guideline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "embed"
)

// Source names accepted by Document.
const (
	SourceGuideline      = "guideline"
	SourceClinicalTrials = "clinical_trials"
)

// ErrUnknownSource is returned for a source name that matches no document.
var ErrUnknownSource = errors.New("unknown guideline source")

var (
	//go:embed guideline.txt
	guidelineText string

	//go:embed clinical_trials.txt
	clinicalTrialsText string
)

// Document is one embedded reference text.
type Document struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Repository serves the embedded documents.
type Repository struct {
	guideline      Document
	clinicalTrials Document
}

// NewRepository returns a repository over the embedded texts.
func NewRepository() *Repository {
	return &Repository{
		guideline: Document{
			Title: "2022 Guideline for the Management of Patients With Spontaneous Intracerebral Hemorrhage: " +
				"A Guideline From the American Heart Association/American Stroke Association",
			Body: guidelineText,
		},
		clinicalTrials: Document{
			Title: "Clinical Trials",
			Body:  clinicalTrialsText,
		},
	}
}

// Guideline returns the AHA/ASA guideline excerpt.
func (r *Repository) Guideline() Document { return r.guideline }

// ClinicalTrials returns the ENRICH, INTERACT3/4, SWITCH and ANNEXA-I summaries.
func (r *Repository) ClinicalTrials() Document { return r.clinicalTrials }

// Document resolves a case-insensitive source name.
func (r *Repository) Document(source string) (Document, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "guideline", "guidelines":
		return r.guideline, nil
	case "trial", "trials", "clinical_trials":
		return r.clinicalTrials, nil
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// Sections splits a document into its non-empty blank-line separated blocks.
func (r *Repository) Sections(source string) ([]string, error) {
	doc, err := r.Document(source)
	if err != nil {
		return nil, err
	}

	return blocks(doc.Body), nil
}

// Search returns the sections containing query, ignoring case. A blank query
// matches nothing.
func (r *Repository) Search(query, source string) ([]string, error) {
	sections, err := r.Sections(source)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []string{}, nil
	}

	matches := []string{}

	for _, section := range sections {
		if strings.Contains(strings.ToLower(section), needle) {
			matches = append(matches, section)
		}
	}

	return matches, nil
}

// SearchAll searches the guideline and then the clinical trials.
func (r *Repository) SearchAll(query string) []string {
	var results []string

	for _, source := range []string{SourceGuideline, SourceClinicalTrials} {
		matches, _ := r.Search(query, source)
		results = append(results, matches...)
	}

	return results
}

// ExportJSON renders both documents as indented JSON.
func (r *Repository) ExportJSON() ([]byte, error) {
	payload := struct {
		Guideline      Document `json:"guideline"`
		ClinicalTrials Document `json:"clinical_trials"`
	}{r.guideline, r.clinicalTrials}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to export guideline documents: %w", err)
	}

	return data, nil
}

// Summarize keeps at most limit blocks.
func Summarize(blocks []string, limit int) []string {
	limit = max(0, min(limit, len(blocks)))

	return blocks[:limit]
}

func blocks(text string) []string {
	var sections []string

	for _, block := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed != "" {
			sections = append(sections, trimmed)
		}
	}

	return sections
}
