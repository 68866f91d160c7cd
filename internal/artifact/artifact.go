package artifact

// Type classifies what an artifact carries.
type Type string

const (
	TypeDocument Type = "document"
	TypeAudio    Type = "audio"
	TypeImage    Type = "image"
	TypeMixed    Type = "mixed"
)

// Valid reports whether t is one of the known artifact types.
func (t Type) Valid() bool {
	switch t {
	case TypeDocument, TypeAudio, TypeImage, TypeMixed:
		return true
	}
	return false
}

// Artifact is the terminal deliverable of a job run.
type Artifact struct {
	Type     Type   `json:"type"`
	Title    string `json:"title"`
	Content  string `json:"content,omitempty"`
	AudioURL string `json:"audioUrl,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// Assets are media URLs produced by tools during a run. They are kept out of
// the model context and folded into the artifact at the end.
type Assets struct {
	AudioURL string `json:"audioUrl,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Inject copies any asset URL the artifact does not already carry, promoting
// a plain document to mixed.
func (a *Artifact) Inject(assets Assets) {
	if assets.AudioURL != "" && a.AudioURL == "" {
		a.AudioURL = assets.AudioURL
		if a.Type == TypeDocument {
			a.Type = TypeMixed
		}
	}
	if assets.ImageURL != "" && a.ImageURL == "" {
		a.ImageURL = assets.ImageURL
		if a.Type == TypeDocument {
			a.Type = TypeMixed
		}
	}
}
