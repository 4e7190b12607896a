package domain

// Business is the tenant that owns one or more messaging channels.
type Business struct {
	ID       string
	Name     string
	Category string
	Hours    string
	Location string
	Website  string
}

// Channel is a WhatsApp number a business receives messages on.
type Channel struct {
	ID    string
	Name  string
	Type  string
	Phone string
}

// Assistant is the configured bot persona answering on a channel.
type Assistant struct {
	ID          string
	Name        string
	Type        string
	Description string
}

// DirectoryRecord is everything needed to serve a channel: the business, the
// channel itself, its active assistant and the assistant's system prompt.
type DirectoryRecord struct {
	Business  Business
	Channel   Channel
	Assistant Assistant
	Prompt    string
}
