package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myriad/api/internal/crawler/platform"
	"myriad/api/internal/store"
)

func TestKeyLayout(t *testing.T) {
	at := time.Unix(1700000000, 5).UTC()

	assert.Equal(t, "reddit/u1/1700000000000000005.json", Key(platform.Payload{
		Platform: store.PlatformReddit, AccountID: "u1", Format: platform.FormatJSON, FetchedAt: at,
	}))
	assert.Equal(t, "facebook/my%20page/1700000000000000005.xml", Key(platform.Payload{
		Platform: store.PlatformFacebook, AccountID: "my page", Format: platform.FormatXML, FetchedAt: at,
	}))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/xml", ContentType(platform.FormatXML))
	assert.Equal(t, "application/json", ContentType(platform.FormatJSON))
}

func TestNewMinioArchive(t *testing.T) {
	a, err := NewMinioArchive(Config{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s", Bucket: "payloads"})
	require.NoError(t, err)
	assert.Equal(t, "payloads", a.bucket)
}
