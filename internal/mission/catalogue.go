// Package mission runs time-boxed user challenges whose progress is
// computed from stored events and sessions.
package mission

// Mission types.
const (
	TypeScan    = "scan"
	TypeCollect = "collect"
	TypeVariety = "variety"
	TypeSession = "session"
)

// Definition is a mission users can start.
type Definition struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Type         string            `json:"type"`
	Target       int               `json:"target"`
	RewardPoints int               `json:"reward_points"`
	DurationDays int               `json:"duration_days"`
	Requirements map[string]string `json:"requirements,omitempty"`
}

// Catalogue is the built-in mission list. IDs are stable.
var Catalogue = []Definition{
	{
		ID:           "daily_scan_5",
		Title:        "Daily Scanner",
		Description:  "Scan 5 items today",
		Type:         TypeScan,
		Target:       5,
		RewardPoints: 100,
		DurationDays: 1,
	},
	{
		ID:           "plastic_collector",
		Title:        "Plastic Collector",
		Description:  "Dispose of 10 plastic items this week",
		Type:         TypeCollect,
		Target:       10,
		RewardPoints: 250,
		DurationDays: 7,
		Requirements: map[string]string{"category": "plastic"},
	},
	{
		ID:           "variety_explorer",
		Title:        "Variety Explorer",
		Description:  "Dispose of 4 different kinds of waste",
		Type:         TypeVariety,
		Target:       4,
		RewardPoints: 300,
		DurationDays: 7,
	},
	{
		ID:           "session_regular",
		Title:        "Regular Recycler",
		Description:  "Complete 3 bin sessions",
		Type:         TypeSession,
		Target:       3,
		RewardPoints: 150,
		DurationDays: 3,
	},
	{
		ID:           "eco_warrior",
		Title:        "Eco Warrior",
		Description:  "Scan 50 items this month",
		Type:         TypeScan,
		Target:       50,
		RewardPoints: 1000,
		DurationDays: 30,
	},
}

// Lookup returns the definition with id.
func Lookup(id string) (Definition, bool) {
	for _, d := range Catalogue {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}
