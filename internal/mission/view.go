package mission

import (
	"encoding/json"

	"github.com/ecotionbuddy/binhub/internal/models"
)

// View is a mission instance with its requirements decoded for clients.
type View struct {
	models.MissionInstance
	Requirements map[string]string `json:"requirements,omitempty"`
}

// NewView decodes mi's stored requirements. Malformed requirement text is
// dropped.
func NewView(mi models.MissionInstance) View {
	v := View{MissionInstance: mi}
	if mi.Requirements != "" {
		_ = json.Unmarshal([]byte(mi.Requirements), &v.Requirements)
	}
	return v
}

// Views maps NewView over list, never returning nil.
func Views(list []models.MissionInstance) []View {
	out := make([]View, 0, len(list))
	for _, mi := range list {
		out = append(out, NewView(mi))
	}
	return out
}
