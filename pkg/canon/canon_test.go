package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "plain video path",
			url:  "https://example.com/video/ABCD-1234",
			want: "ABCD-1234",
		},
		{
			name: "lowercase code is uppercased",
			url:  "https://example.com/video/abcd-1234",
			want: "ABCD-1234",
		},
		{
			name: "fc2 path with slug",
			url:  "https://example.com/fc2ppv/FC2-PPV-4567890-some-long-title",
			want: "FC2-PPV-4567890",
		},
		{
			name: "fc2 without ppv infix",
			url:  "https://example.com/fc2ppv/FC2-1234567-title",
			want: "FC2-1234567",
		},
		{
			name: "code followed by space separated title",
			url:  "https://example.com/video/ABCD-1234%20uncensored%20leak",
			want: "ABCD-1234",
		},
		{
			name: "code followed by fullwidth bracket",
			url:  "https://example.com/video/ABCD-1234%E3%80%90HD%E3%80%91",
			want: "ABCD-1234",
		},
		{
			name: "percent encoded title with no code",
			url:  "https://example.com/video/%E3%82%BF%E3%82%A4%E3%83%88%E3%83%AB",
			want: UnknownCode,
		},
		{
			name: "empty path",
			url:  "https://example.com/",
			want: UnknownCode,
		},
		{
			name: "unparseable url",
			url:  "://not a url",
			want: UnknownCode,
		},
		{
			name: "no marker falls back to last segment",
			url:  "https://example.com/watch/ABCD-1234",
			want: "ABCD-1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.url))
		})
	}
}

func TestExtractCodeDeterministic(t *testing.T) {
	url := "https://example.com/video/ABCD-1234%20leak"
	first := ExtractCode(url)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ExtractCode(url))
	}
}

func TestNormalizeURL(t *testing.T) {
	want := "https://example.com/video/abcd-1234"

	variants := []string{
		"https://example.com/video/ABCD-1234",
		"http://example.com/video/abcd-1234",
		"https://www.example.com/video/abcd-1234",
		"https://example.com/video/abcd-1234/",
		"https://example.com/video/abcd-1234?utm_source=feed",
		"https://example.com/video/abcd-1234#player",
		"http://www.example.com/video/ABCD-1234/?ref=top#x",
	}

	for _, v := range variants {
		assert.Equal(t, want, NormalizeURL(v), "variant %q", v)
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	inputs := []string{
		"http://www.example.com/a/b/?q=1#f",
		"https://example.com",
		"example.com/path/",
	}
	for _, in := range inputs {
		once := NormalizeURL(in)
		assert.Equal(t, once, NormalizeURL(once))
	}
}
