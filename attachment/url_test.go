package attachment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveURL(t *testing.T) {
	base := "https://api.tutors.example.com/"

	assert.Equal(t, "https://api.tutors.example.com/media/chat/a.png", ResolveURL(base, "/media/chat/a.png"))
	assert.Equal(t, "https://api.tutors.example.com/media/b.pdf", ResolveURL(base, "media/b.pdf"))
	assert.Equal(t, "https://cdn.example.com/c.png", ResolveURL(base, "https://cdn.example.com/c.png"))
	assert.Equal(t, "", ResolveURL(base, "  "))
	assert.Equal(t, "/media/d.png", ResolveURL("", "/media/d.png"))
}

func TestResolveURLKeepsBasePath(t *testing.T) {
	assert.Equal(t, "https://host/api/media/x.png", ResolveURL("https://host/api", "media/x.png"))
	assert.Equal(t, "https://host/api/media/x.png", ResolveURL("https://host/api/", "media/x.png"))
	assert.Equal(t, "https://host/media/x.png", ResolveURL("https://host/api", "/media/x.png"))
	assert.Equal(t, "https://host/media/x.png", ResolveURL("https://host", "media/x.png"))
}
