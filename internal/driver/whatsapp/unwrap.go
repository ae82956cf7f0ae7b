package whatsapp

import "go.mau.fi/whatsmeow/proto/waE2E"

// maxUnwrapDepth bounds nested envelopes such as view-once inside ephemeral.
const maxUnwrapDepth = 8

// UnwrapRule extracts the inner message of one wrapper envelope.
type UnwrapRule struct {
	// Name labels the envelope in logs and tests.
	Name string
	// ViewOnce marks envelopes that make the inner media view-once.
	ViewOnce bool
	// Inner returns the wrapped message, or nil when the envelope is absent.
	Inner func(message *waE2E.Message) *waE2E.Message
}

// DefaultUnwrapRules lists the wrapper envelopes in the order they are tried.
func DefaultUnwrapRules() []UnwrapRule {
	return []UnwrapRule{
		{
			Name: "ephemeral",
			Inner: func(message *waE2E.Message) *waE2E.Message {
				return message.GetEphemeralMessage().GetMessage()
			},
		},
		{
			Name:     "view_once",
			ViewOnce: true,
			Inner: func(message *waE2E.Message) *waE2E.Message {
				return message.GetViewOnceMessage().GetMessage()
			},
		},
		{
			Name:     "view_once_v2",
			ViewOnce: true,
			Inner: func(message *waE2E.Message) *waE2E.Message {
				return message.GetViewOnceMessageV2().GetMessage()
			},
		},
		{
			Name:     "view_once_v2_extension",
			ViewOnce: true,
			Inner: func(message *waE2E.Message) *waE2E.Message {
				return message.GetViewOnceMessageV2Extension().GetMessage()
			},
		},
		{
			Name: "document_with_caption",
			Inner: func(message *waE2E.Message) *waE2E.Message {
				return message.GetDocumentWithCaptionMessage().GetMessage()
			},
		},
		{
			Name: "device_sent",
			Inner: func(message *waE2E.Message) *waE2E.Message {
				return message.GetDeviceSentMessage().GetMessage()
			},
		},
	}
}

// UnwrapResult is the innermost message plus the envelopes that were peeled.
type UnwrapResult struct {
	Message  *waE2E.Message
	ViewOnce bool
	Applied  []string
}

// Unwrap peels envelopes with the first matching rule until none matches.
func Unwrap(message *waE2E.Message, rules []UnwrapRule) UnwrapResult {
	result := UnwrapResult{Message: message}
	for depth := 0; depth < maxUnwrapDepth && result.Message != nil; depth++ {
		matched := false
		for _, rule := range rules {
			inner := rule.Inner(result.Message)
			if inner == nil {
				continue
			}
			result.Message = inner
			result.ViewOnce = result.ViewOnce || rule.ViewOnce
			result.Applied = append(result.Applied, rule.Name)
			matched = true
			break
		}
		if !matched {
			break
		}
	}

	return result
}
