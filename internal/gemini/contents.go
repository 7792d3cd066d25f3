package gemini

import (
	"encoding/base64"
	"fmt"
	"mime"
	"path"
	"strings"

	"google.golang.org/genai"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/models"
)

// BuildContents converts chat messages into Gemini contents. System messages
// are left out of the contents; the first one becomes the system instruction.
// When title is set only the latest user message is sent.
func BuildContents(messages []models.Message, title bool) ([]*genai.Content, *genai.Content, error) {
	system := systemInstruction(messages)

	if title {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == models.RoleUser {
				return []*genai.Content{
					genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(messages[i].Content)}, genai.RoleUser),
				}, system, nil
			}
		}
		return nil, system, fmt.Errorf("title request has no user message")
	}

	contents := make([]*genai.Content, 0, len(messages))
	for i, m := range messages {
		if m.Role == models.RoleSystem {
			continue
		}
		parts, err := convertParts(m)
		if err != nil {
			return nil, nil, fmt.Errorf("message %d: %w", i, err)
		}
		var role genai.Role = genai.RoleModel
		if m.Role == models.RoleUser {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, system, nil
}

func systemInstruction(messages []models.Message) *genai.Content {
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			return genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(m.Content)}, genai.RoleUser)
		}
	}
	return nil
}

func convertParts(m models.Message) ([]*genai.Part, error) {
	if m.Parts == nil {
		return []*genai.Part{genai.NewPartFromText(m.Content)}, nil
	}
	var parts []*genai.Part
	for _, p := range m.Parts {
		switch p.Type {
		case models.PartText:
			parts = append(parts, genai.NewPartFromText(p.Text))
		case models.PartImageURL:
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				continue
			}
			part, err := imagePart(p.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
	}
	return parts, nil
}

// imagePart decodes data URLs inline and passes other URLs by reference.
func imagePart(url string) (*genai.Part, error) {
	if strings.HasPrefix(url, "data:") {
		header, data, ok := strings.Cut(url, ",")
		if !ok {
			return nil, fmt.Errorf("invalid data URL format")
		}
		mimeType, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 image: %w", err)
		}
		return genai.NewPartFromBytes(raw, mimeType), nil
	}
	return genai.NewPartFromURI(url, guessMimeType(url)), nil
}

func guessMimeType(url string) string {
	clean, _, _ := strings.Cut(url, "?")
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(clean))); t != "" {
		t, _, _ = strings.Cut(t, ";")
		return t
	}
	return "image/jpeg"
}
