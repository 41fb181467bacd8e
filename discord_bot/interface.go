package discord_bot

type Bot interface {
	// Start connects to the gateway and registers the slash commands.
	Start() error
	// Close removes the commands when configured to and disconnects.
	Close()
}
