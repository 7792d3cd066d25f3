package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Content part types
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// Message is one chat turn. Content holds the flattened text; Parts is set
// only when the wire form was a list of typed parts.
type Message struct {
	Role    string        `json:"role"`
	Content string        `json:"-"`
	Parts   []ContentPart `json:"-"`
	Name    string        `json:"name,omitempty"`
}

// ContentPart is one element of list-form message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type messageWire struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// UnmarshalJSON accepts content as either a string or a list of parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role, m.Name = w.Role, w.Name
	m.Content, m.Parts = "", nil

	raw := strings.TrimSpace(string(w.Content))
	switch {
	case raw == "" || raw == "null":
	case raw[0] == '"':
		if err := json.Unmarshal(w.Content, &m.Content); err != nil {
			return fmt.Errorf("message content: %w", err)
		}
	case raw[0] == '[':
		if err := json.Unmarshal(w.Content, &m.Parts); err != nil {
			return fmt.Errorf("message content parts: %w", err)
		}
		m.Content = JoinText(m.Parts)
	default:
		return fmt.Errorf("message content: unsupported JSON type")
	}
	return nil
}

// MarshalJSON writes list-form content when Parts is set, string content otherwise.
func (m Message) MarshalJSON() ([]byte, error) {
	w := struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
		Name    string `json:"name,omitempty"`
	}{Role: m.Role, Content: m.Content, Name: m.Name}
	if m.Parts != nil {
		w.Content = m.Parts
	}
	return json.Marshal(w)
}

// SetText replaces the message text and drops any list-form parts.
func (m *Message) SetText(text string) {
	m.Content = text
	m.Parts = nil
}

// JoinText concatenates the text parts, newline separated.
func JoinText(parts []ContentPart) string {
	var texts []string
	for _, p := range parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ValidRole reports whether role is one the pipeline understands.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// User identifies the caller on whose behalf a request runs.
type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// DefaultUserID is used when a request carries no user id.
const DefaultUserID = "default_user"

// IDOrDefault returns the user id, or DefaultUserID when unset.
func (u *User) IDOrDefault() string {
	if u == nil || u.ID == "" {
		return DefaultUserID
	}
	return u.ID
}
