package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaTypeFromName(t *testing.T) {
	cases := []struct {
		name   string
		file   string
		want   MediaType
		wantOK bool
	}{
		{name: "jpeg", file: "1700000000000_beach.JPEG", want: MediaImage, wantOK: true},
		{name: "webp", file: "cat.webp", want: MediaImage, wantOK: true},
		{name: "mov", file: "clip.mov", want: MediaVideo, wantOK: true},
		{name: "webm", file: "clip.webm", want: MediaVideo, wantOK: true},
		{name: "text", file: "notes.txt", wantOK: false},
		{name: "no extension", file: "README", wantOK: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MediaTypeFromName(tc.file)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestIsAcceptedMIME(t *testing.T) {
	assert.True(t, IsAcceptedMIME("image/png"))
	assert.True(t, IsAcceptedMIME("video/mp4"))
	assert.True(t, IsAcceptedMIME("Image/JPEG"))
	assert.False(t, IsAcceptedMIME("text/plain"))
	assert.False(t, IsAcceptedMIME("application/pdf"))
	assert.False(t, IsAcceptedMIME(""))
}

func TestDataURLRoundTrip(t *testing.T) {
	payload := DataURL("image/png", []byte{0x89, 'P', 'N', 'G'})
	assert.Equal(t, "data:image/png;base64,iVBORw==", payload)

	contentType, data, err := DecodeDataURL(payload)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, _, err = DecodeDataURL("https://example.com/a.png")
	assert.Error(t, err)
}

func TestLocatorSrc(t *testing.T) {
	assert.Equal(t, "https://raw.example/a.png", Locator{URL: "https://raw.example/a.png", Payload: "data:x"}.Src())
	assert.Equal(t, "data:image/png;base64,AA==", Locator{Payload: "data:image/png;base64,AA=="}.Src())
}

func TestNormalizeContentType(t *testing.T) {
	cases := []struct {
		contentType string
		file        string
		want        string
	}{
		{"Image/JPEG", "a.jpg", "image/jpeg"},
		{"video/MP4; codecs=avc1", "a.mp4", "video/mp4"},
		{"", "a.PNG", "image/png"},
		{"", "clip.mov", "video/quicktime"},
		{"", "notes", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeContentType(tc.contentType, tc.file), "%q %q", tc.contentType, tc.file)
	}
}
