package app

// App is a landing page tile. Knowledge fields are set on user-created
// retrieval-augmented tiles and travel into the chat page URL.
type App struct {
	ID             string `json:"project_id"`
	Name           string `json:"project_name"`
	Description    string `json:"project_description"`
	Icon           string `json:"icon,omitempty"`
	URL            string `json:"url"`
	Type           string `json:"project_type"`
	LowName        string `json:"low_project_name"`
	Permission     int    `json:"permission"`
	Cost           string `json:"project_cost"`
	CreatedBy      string `json:"project_created_by"`
	CreatedByType  string `json:"project_created_by_type"`
	DateCreated    string `json:"project_date_created"`
	Discoverable   bool   `json:"project_discoverable"`
	Favorite       int    `json:"project_favorite"`
	Global         bool   `json:"project_global"`
	HasPortal      bool   `json:"project_has_portal"`
	PortalName     string `json:"project_portal_name"`
	UserPermission int    `json:"user_permission"`
	Engine         string `json:"engine,omitempty"`
	Model          string `json:"model,omitempty"`
	Vector         string `json:"vector,omitempty"`
	Storage        string `json:"storage,omitempty"`
	Temperature    string `json:"temperature,omitempty"`
	QueryCount     string `json:"queryCount,omitempty"`
	Kind           string `json:"type,omitempty"`
}

// Icons offered when adding a tile.
var Icons = []string{
	"app-window", "file-text", "users", "calendar", "package", "pill", "dollar-sign",
	"graduation-cap", "building", "clipboard", "activity", "shield", "database", "globe", "mail",
}

// Types offered when adding a tile.
var Types = []string{"Clinical", "Administration", "Logistics", "Education", "Finance", "Security", "Other"}

const (
	DefaultIcon    = "app-window"
	DefaultType    = "Other"
	PlaygroundType = "RAG"
)

// Seed provides the tiles that are always shown.
func Seed() []App {
	const created = "March 4, 2025"
	tile := func(id, name, description, icon, kind string) App {
		return App{ID: id, Name: name, Description: description, Icon: icon, URL: "#", Type: kind, DateCreated: created}
	}
	return []App{
		tile("1", "Electronic Health Record", "Access and manage patient health records", "file-text", "Clinical"),
		tile("2", "Medical Logistics", "Track and manage medical supplies and equipment", "package", "Logistics"),
		tile("3", "Personnel Management", "Manage military and civilian personnel records", "users", "Administration"),
		tile("4", "Pharmacy System", "Prescription management and tracking", "pill", "Clinical"),
		tile("5", "Appointment Scheduler", "Schedule and manage patient appointments", "calendar", "Clinical"),
		tile("6", "Budget Tracker", "Track and manage departmental budgets", "dollar-sign", "Administration"),
		tile("7", "Training Portal", "Access required training and education resources", "graduation-cap", "Education"),
		tile("8", "Facility Management", "Manage medical facilities and infrastructure", "building", "Logistics"),
	}
}
