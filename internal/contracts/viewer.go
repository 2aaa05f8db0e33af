package contracts

const (
	// EventFileChanged tells every window that the watched file changed on disk.
	EventFileChanged = "file-changed"
	// EventFilePath hands the launch path to the primary window once at startup.
	EventFilePath = "file-path"
)

// PrimaryWindow is the label of the window that receives startup notifications.
const PrimaryWindow = "main"

// Command names accepted by the command endpoint.
const (
	CommandRenderMarkdown = "render_markdown"
	CommandGetLaunchPaths = "get_launch_paths"
	CommandOpenExternally = "open_externally"
	CommandStartWatch     = "start_watch"
	CommandStopWatch      = "stop_watch"
	CommandGetSettings    = "get_settings"
	CommandUpdateSettings = "update_settings"
	CommandToggleSetting  = "toggle_setting"
)

// Notification is an unsolicited message pushed from the backend to a window.
type Notification struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// CommandRequest is the union of all command arguments. Each command reads
// only the fields it needs.
type CommandRequest struct {
	Path     string    `json:"path,omitempty"`
	Name     string    `json:"name,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
}

// CommandResponse carries either a result or an error message, never both.
type CommandResponse struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Settings are the viewer display preferences persisted across sessions.
type Settings struct {
	Minimap     bool   `json:"minimap" yaml:"minimap"`
	WordWrap    string `json:"word_wrap" yaml:"word_wrap"`
	LineNumbers string `json:"line_numbers" yaml:"line_numbers"`
	VimMode     bool   `json:"vim_mode" yaml:"vim_mode"`
	StatusBar   bool   `json:"status_bar" yaml:"status_bar"`
	WordCount   bool   `json:"word_count" yaml:"word_count"`
}
