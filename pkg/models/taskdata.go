package models

import (
	"fmt"
	"strings"
)

// TaskType discriminates the kind of content a job generates.
type TaskType string

const (
	TaskTypeArticles       TaskType = "articles"
	TaskTypeProducts       TaskType = "products"
	TaskTypeDesignSections TaskType = "design_sections"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeArticles, TaskTypeProducts, TaskTypeDesignSections:
		return true
	}
	return false
}

// MaxItemsPerJob caps the batch size of a single generation job.
const MaxItemsPerJob = 50

// TaskData is the typed payload of a generation job. Exactly one item list
// must be populated, and it must match Type.
type TaskData struct {
	Type     TaskType          `json:"type"`
	Articles []ArticleSpec     `json:"articles,omitempty"`
	Products []ProductSpec     `json:"products,omitempty"`
	Sections []SectionSpec     `json:"sections,omitempty"`
	Options  GenerationOptions `json:"options"`
}

// ArticleSpec describes one blog article to generate.
type ArticleSpec struct {
	Topic     string   `json:"topic"`
	Keywords  []string `json:"keywords,omitempty"`
	Tone      string   `json:"tone,omitempty"`
	WordCount int      `json:"word_count,omitempty"`
}

// ProductSpec describes one product description to generate.
type ProductSpec struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Features []string `json:"features,omitempty"`
	Audience string   `json:"audience,omitempty"`
}

// SectionSpec describes one website design section to generate.
type SectionSpec struct {
	SectionType  string `json:"section_type"`
	BusinessName string `json:"business_name"`
	Industry     string `json:"industry,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// GenerationOptions are shared tuning knobs applied to every item in the job.
type GenerationOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Language    string  `json:"language,omitempty"`
}

// ItemCount returns the number of items the populated list carries.
func (d TaskData) ItemCount() int {
	switch d.Type {
	case TaskTypeArticles:
		return len(d.Articles)
	case TaskTypeProducts:
		return len(d.Products)
	case TaskTypeDesignSections:
		return len(d.Sections)
	}
	return 0
}

// Validate checks the payload is well-formed for its type: the matching list
// is non-empty and within the batch cap, the other lists are empty, and each
// item carries its required fields.
func (d TaskData) Validate() error {
	switch d.Type {
	case TaskTypeArticles:
		if len(d.Articles) == 0 {
			return fmt.Errorf("task type %q requires at least one article", d.Type)
		}
		if len(d.Products) > 0 || len(d.Sections) > 0 {
			return fmt.Errorf("task type %q must not carry product or section items", d.Type)
		}
		for i, a := range d.Articles {
			if strings.TrimSpace(a.Topic) == "" {
				return fmt.Errorf("article %d: topic is required", i)
			}
		}
	case TaskTypeProducts:
		if len(d.Products) == 0 {
			return fmt.Errorf("task type %q requires at least one product", d.Type)
		}
		if len(d.Articles) > 0 || len(d.Sections) > 0 {
			return fmt.Errorf("task type %q must not carry article or section items", d.Type)
		}
		for i, p := range d.Products {
			if strings.TrimSpace(p.Name) == "" {
				return fmt.Errorf("product %d: name is required", i)
			}
		}
	case TaskTypeDesignSections:
		if len(d.Sections) == 0 {
			return fmt.Errorf("task type %q requires at least one section", d.Type)
		}
		if len(d.Articles) > 0 || len(d.Products) > 0 {
			return fmt.Errorf("task type %q must not carry article or product items", d.Type)
		}
		for i, s := range d.Sections {
			if strings.TrimSpace(s.SectionType) == "" {
				return fmt.Errorf("section %d: section_type is required", i)
			}
			if strings.TrimSpace(s.BusinessName) == "" {
				return fmt.Errorf("section %d: business_name is required", i)
			}
		}
	default:
		return fmt.Errorf("unknown task type %q", d.Type)
	}
	if n := d.ItemCount(); n > MaxItemsPerJob {
		return fmt.Errorf("%d items exceeds the per-job limit of %d", n, MaxItemsPerJob)
	}
	return nil
}
