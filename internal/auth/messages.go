package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const messagesCookie = "radsite_messages"

const (
	MessageInfo    = "info"
	MessageSuccess = "success"
	MessageWarning = "warning"
	MessageError   = "error"
)

// Message is a one-shot notice shown on the next rendered page.
type Message struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func readMessages(r *http.Request) []Message {
	c, err := r.Cookie(messagesCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil
	}
	return msgs
}

// AddMessage queues a message for the next page render.
func AddMessage(w http.ResponseWriter, r *http.Request, level, text string) {
	msgs := append(readMessages(r), Message{Level: level, Text: text})
	data, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     messagesCookie,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopMessages returns queued messages and clears them.
func PopMessages(w http.ResponseWriter, r *http.Request) []Message {
	msgs := readMessages(r)
	if len(msgs) > 0 {
		http.SetCookie(w, &http.Cookie{Name: messagesCookie, Value: "", Path: "/", MaxAge: -1})
	}
	return msgs
}
