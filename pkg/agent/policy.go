package agent

import "github.com/storacha-rag/ragbot/pkg/conversation"

// ChatPolicy is used by the single-session terminal chat: free text is a
// question, every upload kind is available and images are analyzed.
var ChatPolicy = conversation.Policy{
	FreeformQuestions: true,
	AcceptImages:      true,
}

// TelegramPolicy collects every upload kind and accepts images. Questions go
// through /ask.
var TelegramPolicy = conversation.Policy{
	AcceptImages: true,
}

// TextOnlyPolicy is for channels that cannot download files: text and URL
// uploads only.
var TextOnlyPolicy = conversation.Policy{
	UploadKinds: []conversation.Kind{conversation.KindText, conversation.KindURL},
}

// PolicyFor returns the policy of a named bot channel.
func PolicyFor(channel string) conversation.Policy {
	switch channel {
	case "telegram":
		return TelegramPolicy
	case "chat":
		return ChatPolicy
	default:
		return TextOnlyPolicy
	}
}
