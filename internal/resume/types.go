package resume

// Payload is the typed view of the résumé data document.
// Stored resumes keep the raw JSON; Payload is built on demand with FromMap.
type Payload struct {
	Profile    Profile      `json:"profile"`
	Summary    string       `json:"summary"`
	Experience []Experience `json:"experience"`
	Education  []Education  `json:"education"`
	Skills     Skills       `json:"skills"`
}

// Profile identifies the candidate.
type Profile struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Contacts Contacts `json:"contacts"`
}

// Contacts holds the contact line fields.
type Contacts struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
	LinkedIn string `json:"linkedin"`
}

// Experience is one position.
type Experience struct {
	Company string   `json:"company"`
	Role    string   `json:"role"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
	Bullets []string `json:"bullets"`
}

// Education is one diploma.
type Education struct {
	School string `json:"school"`
	Degree string `json:"degree"`
	Year   string `json:"year"`
}

// Skills groups skill items under labels.
type Skills struct {
	Groups []SkillGroup `json:"groups"`
}

// SkillGroup is a labelled list of skills.
type SkillGroup struct {
	Label string   `json:"label"`
	Items []string `json:"items"`
}
