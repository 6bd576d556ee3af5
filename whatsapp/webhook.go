package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// Payload is a webhook delivery.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes of one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field update.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds received messages and their senders.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
}

// Metadata identifies the receiving number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is a sender's profile.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is a received message.
type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Body string `json:"body"`
}

// Interactive is a reply to buttons or a list.
type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

// Reply is the chosen button or list row.
type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Incoming is a received message reduced to what the bot handles.
type Incoming struct {
	ID       string
	From     string
	Name     string
	Text     string
	ReplyID  string
	Received time.Time
}

// Parse decodes a delivery and returns its text and interactive messages.
// Status updates and other message types are skipped.
func Parse(body []byte) ([]Incoming, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}

	var out []Incoming
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			names := make(map[string]string, len(c.Value.Contacts))
			for _, ct := range c.Value.Contacts {
				names[ct.WaID] = ct.Profile.Name
			}
			for _, m := range c.Value.Messages {
				in := Incoming{ID: m.ID, From: m.From, Name: names[m.From], Received: parseTimestamp(m.Timestamp)}
				switch {
				case m.Type == "text" && m.Text != nil:
					in.Text = m.Text.Body
				case m.Type == "interactive" && m.Interactive != nil:
					r := m.Interactive.ButtonReply
					if m.Interactive.Type == "list_reply" || r == nil {
						r = m.Interactive.ListReply
					}
					if r == nil {
						continue
					}
					in.ReplyID = r.ID
					in.Text = r.Title
				default:
					continue
				}
				out = append(out, in)
			}
		}
	}
	return out, nil
}

func parseTimestamp(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// VerifySubscription answers the webhook verification handshake. It returns
// the challenge to echo and whether the token matched.
func VerifySubscription(q url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" || q.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", false
	}
	return q.Get("hub.challenge"), true
}

// ValidSignature checks the sha256 HMAC of body against the signature
// header using the app secret.
func ValidSignature(body []byte, header, appSecret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature header value for body.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
