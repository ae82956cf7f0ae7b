package antidelete

import (
	"context"
	"fmt"
	"strings"

	"wa-recall/pkg/recall"
)

const commandPrefix = "."

var antideleteCommandNames = map[string]struct{}{
	"antidelete": {},
	"antidel":    {},
	"adel":       {},
}

const antiviewonceCommandName = "antiviewonce"

// handleCommand runs owner toggle commands. It reports whether event was
// consumed as a command; commands from anyone else are treated as ordinary
// messages.
func (m *Module) handleCommand(ctx context.Context, event *recall.Event) bool {
	name, argument, ok := parseCommand(event.Message.Text)
	if !ok {
		return false
	}

	var run func(context.Context, string) string
	if _, known := antideleteCommandNames[name]; known {
		run = m.runAntideleteCommand
	} else if name == antiviewonceCommandName {
		run = m.runAntiviewonceCommand
	} else {
		return false
	}

	sink := recall.SinkFromEvent(event)
	if !m.isOwner(ctx, sink, event.Actor) {
		m.logger.DebugContext(ctx, "antidelete command ignored from non-owner",
			"command", name,
			"actor", event.Actor.ID,
		)
		return false
	}

	reply := run(ctx, argument)
	if err := m.sendText(ctx, sink, event.Conversation.ID, reply, nil); err != nil {
		m.logger.WarnContext(ctx, "antidelete command reply not delivered", "command", name, "error", err)
	}

	return true
}

// parseCommand splits ".name arg ..." into a lowercase name and first argument.
func parseCommand(text string) (name string, argument string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, commandPrefix) {
		return "", "", false
	}
	fields := strings.Fields(strings.TrimPrefix(text, commandPrefix))
	if len(fields) == 0 {
		return "", "", false
	}
	name = strings.ToLower(fields[0])
	if len(fields) > 1 {
		argument = strings.ToLower(fields[1])
	}

	return name, argument, true
}

func (m *Module) isOwner(ctx context.Context, sink *recall.EventSink, actor recall.Actor) bool {
	if actor.IsSelf {
		return true
	}
	if owner := ownerJIDFromNumber(m.ownerNumber); owner != "" && sameUser(actor.ID, owner) {
		return true
	}
	self, ok := m.selfIdentity(ctx, sink)
	if !ok {
		return false
	}

	return (self.User != "" && jidUser(actor.ID) == self.User) || sameUser(actor.ID, self.ActorID)
}

func (m *Module) runAntideleteCommand(ctx context.Context, argument string) string {
	if argument == "" {
		return m.antideleteStatusText(m.settings.Load(ctx))
	}

	if mode, ok := ParseAntideleteMode(argument); ok {
		if err := m.settings.SetAntideleteMode(ctx, mode); err != nil {
			return m.commandFailureText(ctx, err)
		}
		return fmt.Sprintf("✅ *Antidelete set to %s mode!*", strings.ToUpper(string(mode)))
	}

	switch argument {
	case "on":
		if err := m.settings.SetAntidelete(ctx, true); err != nil {
			return m.commandFailureText(ctx, err)
		}
		return "✅ *Antidelete enabled!*"
	case "off":
		if err := m.settings.SetAntidelete(ctx, false); err != nil {
			return m.commandFailureText(ctx, err)
		}
		return "❌ *Antidelete disabled!*"
	default:
		return "❌ *Invalid option!*\nUse: `on`, `off`, `owner`, `chat`, or `private`"
	}
}

func (m *Module) runAntiviewonceCommand(ctx context.Context, argument string) string {
	if argument == "" {
		config := m.settings.Load(ctx)
		return fmt.Sprintf(
			"*🔰 ANTI-VIEWONCE SETUP 🔰*\n\n*Status:* %s\n*Mode:* %s\n\n• Use `.antiviewonce <on|off|owner|chat|warn>` to change.",
			statusLabel(config.AntiviewonceEnabled),
			strings.ToUpper(string(config.AntiviewonceMode)),
		)
	}

	if mode, ok := ParseViewOnceMode(argument); ok {
		if err := m.settings.SetAntiviewonceMode(ctx, mode); err != nil {
			return m.commandFailureText(ctx, err)
		}
		return fmt.Sprintf("✅ *Anti-ViewOnce set to %s mode!*", strings.ToUpper(string(mode)))
	}

	switch argument {
	case "on":
		if err := m.settings.SetAntiviewonce(ctx, true); err != nil {
			return m.commandFailureText(ctx, err)
		}
		return "✅ *Anti-ViewOnce enabled!*"
	case "off":
		if err := m.settings.SetAntiviewonce(ctx, false); err != nil {
			return m.commandFailureText(ctx, err)
		}
		return "❌ *Anti-ViewOnce disabled!*"
	default:
		return "❌ *Invalid option!*\nUse: `on`, `off`, `owner`, `chat`, or `warn`"
	}
}

func (m *Module) antideleteStatusText(config FeatureConfig) string {
	storage := "File"
	if m.storageKind == "sqlite" {
		storage = "Database"
	}

	return "*🔰 ANTIDELETE SETUP 🔰*\n\n" +
		fmt.Sprintf("*Status:* %s\n", statusLabel(config.AntideleteEnabled)) +
		fmt.Sprintf("*Mode:* %s\n", strings.ToUpper(string(config.AntideleteMode))) +
		fmt.Sprintf("*Storage:* %s\n\n", storage) +
		"*Commands:*\n" +
		"• `.antidelete on` - Enable\n" +
		"• `.antidelete off` - Disable\n" +
		"• `.antidelete owner` - Reports to your inbox only\n" +
		"• `.antidelete chat` - Reports + resend in original chat\n" +
		"• `.antidelete private` - Track only private chats\n\n" +
		fmt.Sprintf("*Anti-ViewOnce Mode:* %s\n", strings.ToUpper(string(config.AntiviewonceMode))) +
		"• Use `.antiviewonce <owner|chat|warn>` to change."
}

func (m *Module) commandFailureText(ctx context.Context, err error) string {
	m.logger.ErrorContext(ctx, "antidelete settings write failed", "error", err)

	return "❌ *Failed to save setting.*"
}

func statusLabel(enabled bool) string {
	if enabled {
		return "✅ Enabled"
	}

	return "❌ Disabled"
}
