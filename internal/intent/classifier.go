// Package intent picks the output contract for a request by matching the
// user's words and attachment kinds against an ordered routing table. It
// looks at the request only, never at the model's answer.
package intent

import "strings"

// Tag names an output contract.
type Tag string

const (
	TagJSONFix               Tag = "json_fix"
	TagDocSummary            Tag = "doc_summary"
	TagSpreadsheetAnalysis   Tag = "spreadsheet_analysis"
	TagVisualTroubleshooting Tag = "visual_troubleshooting"
	TagLogAnalysis           Tag = "log_analysis"
	TagActionExecution       Tag = "action_execution"
	TagGeneral               Tag = "general"
)

// Valid reports whether t is one of the known tags.
func (t Tag) Valid() bool {
	switch t {
	case TagJSONFix, TagDocSummary, TagSpreadsheetAnalysis, TagVisualTroubleshooting,
		TagLogAnalysis, TagActionExecution, TagGeneral:
		return true
	}
	return false
}

// Contract is the instruction bundle a request is routed to.
type Contract struct {
	Tag                Tag      `json:"tag"`
	JSONOnly           bool     `json:"json_only"`
	SystemInstructions string   `json:"system_instructions"`
	OutputRules        []string `json:"output_rules"`
}

// Classifier routes requests with one Table. Safe for concurrent use.
type Classifier struct {
	table *Table
}

// NewClassifier returns a classifier over table; nil means DefaultTable.
func NewClassifier(table *Table) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	return &Classifier{table: table}
}

// Classify returns the contract of the first matching rule, or the general
// contract. Attachment kinds are ignored unless hasAttachments is set.
func (c *Classifier) Classify(request string, hasAttachments bool, attachmentKinds []string) Contract {
	lower := strings.ToLower(request)
	if !hasAttachments {
		attachmentKinds = nil
	}

	for _, r := range c.table.rules {
		if r.matchesText(lower) || r.matchesAttachment(attachmentKinds) {
			contract, _ := c.table.Lookup(r.tag)
			return contract
		}
	}
	contract, _ := c.table.Lookup(TagGeneral)
	return contract
}

// Classify uses the default table.
func Classify(request string, hasAttachments bool, attachmentKinds []string) Contract {
	return NewClassifier(nil).Classify(request, hasAttachments, attachmentKinds)
}
