package gateway

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

// BuildStreamMarkup returns the TwiML document the incoming-call webhook
// responds with: a <Connect><Stream> pointed at the media websocket, with
// the caller's number passed through as a custom parameter so the gateway
// can recover it from the stream's start event without a second lookup.
func BuildStreamMarkup(streamURL, callerPhone, greetingText string) (string, error) {
	elements := []twiml.Element{}

	if greetingText != "" {
		elements = append(elements, &twiml.VoiceSay{
			Message: greetingText,
		})
	}

	stream := &twiml.VoiceStream{
		Url: streamURL,
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{
				Name:  "caller_phone",
				Value: callerPhone,
			},
		},
	}
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	elements = append(elements, connect)

	markup, err := twiml.Voice(elements)
	if err != nil {
		return "", fmt.Errorf("gateway: build twiml: %w", err)
	}
	return markup, nil
}

// StreamURL builds the wss:// media-stream URL the TwiML document points
// callers at, from the public base URL configured for the admin surface.
func StreamURL(publicBaseURL string) string {
	return wsify(publicBaseURL) + "/media"
}

// wsify rewrites an http(s) base URL to its ws(s) equivalent.
func wsify(baseURL string) string {
	switch {
	case len(baseURL) >= 8 && baseURL[:8] == "https://":
		return "wss://" + baseURL[8:]
	case len(baseURL) >= 7 && baseURL[:7] == "http://":
		return "ws://" + baseURL[7:]
	default:
		return baseURL
	}
}
