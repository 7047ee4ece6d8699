package xmpp

const helpText = `Valid commands:
- "ignore": further messages are pretended to be delivered without being delivered.
- "disable": this resource will not receive further messages. Other ways of contacting you are tried.
- "normal": reset configuration to normal delivery.
- "help": print this help text.
`

// presenceForSetting returns the outbound presence "show" value to
// broadcast after a settings change. The empty string means default
// presence (no show element).
func presenceForSetting(s setting) string {
	switch s {
	case settingIgnore:
		return "away"
	case settingDisable:
		return "dnd"
	default:
		return ""
	}
}

// parseCommand reports whether body is a recognized user command and, if
// so, which setting it requests. "help" is handled separately by the
// caller since it doesn't change any setting.
func parseCommand(body string) (setting, bool) {
	switch body {
	case string(settingNormal), string(settingIgnore), string(settingDisable):
		return setting(body), true
	default:
		return "", false
	}
}
