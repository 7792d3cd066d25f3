package gemini

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/models"
)

func TestBuildContents_RolesAndSystem(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "first system"},
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi there"},
		{Role: models.RoleSystem, Content: "second system"},
		{Role: models.RoleTool, Content: "tool output"},
		{Role: models.RoleUser, Content: "and now?"},
	}

	contents, system, err := BuildContents(messages, false)
	require.NoError(t, err)
	require.NotNil(t, system)
	assert.Equal(t, "first system", system.Parts[0].Text)

	require.Len(t, contents, 4)
	roles := make([]string, len(contents))
	for i, c := range contents {
		roles[i] = c.Role
	}
	assert.Equal(t, []string{"user", "model", "model", "user"}, roles)
	assert.Equal(t, "and now?", contents[3].Parts[0].Text)
}

func TestBuildContents_TitleSendsLatestUserMessage(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "answer"},
		{Role: models.RoleUser, Content: "Create a title for this chat"},
	}
	contents, _, err := BuildContents(messages, true)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "Create a title for this chat", contents[0].Parts[0].Text)

	_, _, err = BuildContents([]models.Message{{Role: models.RoleAssistant, Content: "x"}}, true)
	assert.Error(t, err)
}

func TestBuildContents_ImageParts(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	messages := []models.Message{{
		Role: models.RoleUser,
		Parts: []models.ContentPart{
			{Type: models.PartText, Text: "what is this?"},
			{Type: models.PartImageURL, ImageURL: &models.ImageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)}},
			{Type: models.PartImageURL, ImageURL: &models.ImageURL{URL: "https://example.com/cat.webp?size=2"}},
			{Type: models.PartImageURL},
		},
	}}

	contents, system, err := BuildContents(messages, false)
	require.NoError(t, err)
	assert.Nil(t, system)
	require.Len(t, contents, 1)
	parts := contents[0].Parts
	require.Len(t, parts, 3)

	assert.Equal(t, "what is this?", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, png, parts[1].InlineData.Data)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	require.NotNil(t, parts[2].FileData)
	assert.Equal(t, "https://example.com/cat.webp?size=2", parts[2].FileData.FileURI)
	assert.Equal(t, "image/webp", parts[2].FileData.MIMEType)
}

func TestBuildContents_BadDataURL(t *testing.T) {
	messages := []models.Message{{
		Role:  models.RoleUser,
		Parts: []models.ContentPart{{Type: models.PartImageURL, ImageURL: &models.ImageURL{URL: "data:image/png;base64,!!!"}}},
	}}
	_, _, err := BuildContents(messages, false)
	assert.Error(t, err)
}
