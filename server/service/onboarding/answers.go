package onboarding

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Answers is the sparse, additive set of step-scoped fields captured during
// the workflow. A nil field means "not yet answered", never "answered
// empty"; fields are only ever overwritten, never deleted.
type Answers struct {
	Language        *string  `json:"language,omitempty"`
	UserName        *string  `json:"userName,omitempty"`
	Personalization *string  `json:"personalization,omitempty"` // "man" | "woman" | "specify"
	VisionPrompt    *string  `json:"visionPrompt,omitempty"`
	VisionImageRef  *string  `json:"visionImageRef,omitempty"`
	VisionStyle     *string  `json:"visionStyle,omitempty"`
	GoalTitle       *string  `json:"goalTitle,omitempty"`
	Emotions        []string `json:"emotions,omitempty"`
	MilestoneTitle  *string  `json:"milestoneTitle,omitempty"`
	FirstTaskTitle  *string  `json:"firstTaskTitle,omitempty"`
}

// Merge applies update on top of a, last-write-wins per field. Fields unset
// in update are left untouched.
func (a *Answers) Merge(update *Answers) {
	if update == nil {
		return
	}
	if update.Language != nil {
		a.Language = update.Language
	}
	if update.UserName != nil {
		a.UserName = update.UserName
	}
	if update.Personalization != nil {
		a.Personalization = update.Personalization
	}
	if update.VisionPrompt != nil {
		a.VisionPrompt = update.VisionPrompt
	}
	if update.VisionImageRef != nil {
		a.VisionImageRef = update.VisionImageRef
	}
	if update.VisionStyle != nil {
		a.VisionStyle = update.VisionStyle
	}
	if update.GoalTitle != nil {
		a.GoalTitle = update.GoalTitle
	}
	if update.Emotions != nil {
		a.Emotions = update.Emotions
	}
	if update.MilestoneTitle != nil {
		a.MilestoneTitle = update.MilestoneTitle
	}
	if update.FirstTaskTitle != nil {
		a.FirstTaskTitle = update.FirstTaskTitle
	}
}

// Encode serializes the answers to the JSON form stored in the session row.
func (a *Answers) Encode() (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal answers")
	}
	return string(raw), nil
}

// DecodeAnswers parses the JSON answers payload of a session row. An empty
// payload decodes to empty answers.
func DecodeAnswers(raw string) (*Answers, error) {
	answers := &Answers{}
	if raw == "" {
		return answers, nil
	}
	if err := json.Unmarshal([]byte(raw), answers); err != nil {
		return nil, errors.Wrap(err, "failed to parse answers")
	}
	return answers, nil
}

// MaterializedRecords holds the identifiers of the records created by
// materialization. Populated once and never reassigned.
type MaterializedRecords struct {
	GoalID        string  `json:"goalId"`
	MilestoneID   string  `json:"milestoneId"`
	TaskID        string  `json:"taskId"`
	VisionImageID *string `json:"visionImageId,omitempty"`
}

// Refs returns the sync record refs for the materialized records.
func (m *MaterializedRecords) Refs() []string {
	refs := make([]string, 0, 4)
	if m.VisionImageID != nil {
		refs = append(refs, "vision_image:"+*m.VisionImageID)
	}
	refs = append(refs, "goal:"+m.GoalID, "milestone:"+m.MilestoneID, "task:"+m.TaskID)
	return refs
}

// Encode serializes the record ids to the JSON form stored in the session row.
func (m *MaterializedRecords) Encode() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal materialized ids")
	}
	return string(raw), nil
}

// DecodeMaterializedRecords parses the JSON materialized-ids payload of a
// session row. Returns nil for an absent payload.
func DecodeMaterializedRecords(raw *string) (*MaterializedRecords, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	records := &MaterializedRecords{}
	if err := json.Unmarshal([]byte(*raw), records); err != nil {
		return nil, errors.Wrap(err, "failed to parse materialized ids")
	}
	return records, nil
}
