package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/frontiertower/towerbot/internal/command"
	"github.com/frontiertower/towerbot/internal/policy"
)

const (
	genericErrorReply = "Sorry, I encountered an error. Please try again later."
	resetReply        = "Done. Your conversations with me have been reset."

	loginUnavailableReply = "OAuth is not configured on this bot. Please contact the administrator."
	loginErrorReply       = "Sorry, there was an error generating the authorization link. Please try again later."

	introduction = "Hello! I am TowerBot, the dedicated AI resource for all Frontier Tower citizens.\n\n" +
		"My mission is to make your life easier by handling background tasks and providing seamless support " +
		"within our community. Whether you need answers to questions or are looking to connect with fellow residents, " +
		"I'm here to assist.\n\n" +
		"As your knowledgeable and friendly community facilitator, I leverage my understanding of Frontier Tower's " +
		"needs and interactions to offer accurate, context-aware assistance. Just use commands like /ask or /connect " +
		"to get started. I'm always ready to help!"
)

// rejectionReply is the message a denied user sees for each reason.
func rejectionReply(reason policy.Reason, joinURL string) string {
	switch reason {
	case policy.ReasonNotInGroup:
		return "Sorry, this bot is only available to members of the Frontier Tower community chat."
	case policy.ReasonSoulinkNoSharedGroup:
		return "Sorry, you need to share a group with a community admin to use this bot."
	case policy.ReasonMembershipCheckFailed:
		return fmt.Sprintf("Sorry, you're not a member of the Frontier Tower. Please join the community at %s to get access.", joinURL)
	case policy.ReasonDirectoryUnavailable:
		return "Sorry, I can't verify your membership right now. Please try again in a few minutes."
	default:
		return genericErrorReply
	}
}

func loginReply(link string, valid time.Duration) string {
	return fmt.Sprintf("OAuth Authorization\n\nOpen this link to authorize your account:\n%s\n\nThis link will expire in %d minutes.",
		link, int(valid.Round(time.Minute)/time.Minute))
}

func usageReply(err *UsageError, prefixes command.Prefixes) string {
	if err.Command == "" {
		return "I don't know that command.\n\n" + helpText(prefixes)
	}
	return fmt.Sprintf("Please add some context. Example: /%s %s", err.Command, err.Example)
}

func helpText(prefixes command.Prefixes) string {
	var sb strings.Builder
	sb.WriteString("Here is what I can do:\n")
	for _, name := range prefixes.Names() {
		fmt.Fprintf(&sb, "/%s %s\n", name, command.Example(name))
	}
	sb.WriteString("/reset - start our conversations over\n")
	sb.WriteString("/login - link your account\n")
	sb.WriteString("/help - show this message\n\n")
	sb.WriteString("You can also message me directly to chat.")
	return sb.String()
}
