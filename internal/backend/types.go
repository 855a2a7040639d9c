package backend

// Message roles.
const (
	RoleUser      = "user"
	RoleSystem    = "system"
	RoleAssistant = "assistant" // only recorded in transcripts, never sent
)

// Message is one prompt handed to a provider.
type Message struct {
	Content string
	Role    string // RoleUser or RoleSystem, exported to command backends as TASKFLOW_ROLE
}

// Response is a provider's reply. Error carries the provider's own error
// text when the call failed or the provider flagged its result as an error.
type Response struct {
	Content   string
	SessionID string
	Error     string
}

// Config selects an adapter and describes the session it should run.
type Config struct {
	Type         string   // adapter name in the Registry: "claude" or "command"
	Provider     string   // provider key from the config file, recorded with sessions
	Command      string   // executable; adapters may default it
	Args         []string // prepended to the adapter's own arguments
	WorkDir      string   // empty means the current directory
	SessionID    string   // empty starts a new session
	Model        string
	SystemPrompt string
}
