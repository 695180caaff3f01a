package memo

import "strings"

// FormState is the pair of free-text fields a submission is built from.
type FormState struct {
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
}

// Complete reports whether both fields are non-empty after trimming.
func (f FormState) Complete() bool {
	return strings.TrimSpace(f.DisplayName) != "" && strings.TrimSpace(f.Text) != ""
}

// FormUpdate carries an optional new value for each field; nil leaves the field alone.
type FormUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Text        *string `json:"text,omitempty"`
}

// Form holds the editable state. It never rejects input: an incomplete form
// only disables submission.
type Form struct {
	state FormState
}

// SetDisplayName replaces the display name as typed, untrimmed.
func (f *Form) SetDisplayName(s string) { f.state.DisplayName = s }

// SetText replaces the memo text as typed, untrimmed.
func (f *Form) SetText(s string) { f.state.Text = s }

// Apply sets whichever fields the update carries.
func (f *Form) Apply(u FormUpdate) {
	if u.DisplayName != nil {
		f.SetDisplayName(*u.DisplayName)
	}
	if u.Text != nil {
		f.SetText(*u.Text)
	}
}

// Submittable is true iff the form is complete and nothing is in flight.
func (f *Form) Submittable(inFlight bool) bool {
	return !inFlight && f.state.Complete()
}

// Reset clears both fields. It runs after a confirmed write.
func (f *Form) Reset() { f.state = FormState{} }

// Snapshot returns a copy of the current fields.
func (f *Form) Snapshot() FormState { return f.state }
