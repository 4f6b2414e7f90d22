package probe

import "strings"

// Default page commands for a Jitsi Meet client.
const (
	ConnectedScript  = "return APP.conference._room.xmpp.connection.connected;"
	StatsScript      = "return APP.conference.getStats();"
	DisconnectScript = "return APP.conference._room.connection.disconnect();"
)

// Scripts are the function bodies issued to the page.
type Scripts struct {
	Connected  string `yaml:"connected"`
	Stats      string `yaml:"stats"`
	Disconnect string `yaml:"disconnect"`
}

// DefaultScripts returns the Jitsi Meet commands.
func DefaultScripts() Scripts {
	return Scripts{
		Connected:  ConnectedScript,
		Stats:      StatsScript,
		Disconnect: DisconnectScript,
	}
}

// WithDefaults fills blank scripts from DefaultScripts.
func (s Scripts) WithDefaults() Scripts {
	defaults := DefaultScripts()
	if strings.TrimSpace(s.Connected) != "" {
		defaults.Connected = s.Connected
	}
	if strings.TrimSpace(s.Stats) != "" {
		defaults.Stats = s.Stats
	}
	if strings.TrimSpace(s.Disconnect) != "" {
		defaults.Disconnect = s.Disconnect
	}
	return defaults
}
