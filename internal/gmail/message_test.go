package gmail

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRaw(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want []string
	}{
		{
			name: "minimal message",
			msg:  Message{To: "a@x.com", Subject: "S", Body: "<p>B</p>"},
			want: []string{
				"To: a@x.com",
				"Subject: S",
				"Content-Type: text/html; charset=utf-8",
				"MIME-Version: 1.0",
				"",
				"<p>B</p>",
			},
		},
		{
			name: "with cc",
			msg:  Message{To: "a@x.com", Subject: "S", Body: "hi", Cc: "c@x.com"},
			want: []string{
				"To: a@x.com",
				"Subject: S",
				"Content-Type: text/html; charset=utf-8",
				"MIME-Version: 1.0",
				"Cc: c@x.com",
				"",
				"hi",
			},
		},
		{
			name: "with cc and bcc",
			msg:  Message{To: "a@x.com", Subject: "S", Body: "hi", Cc: "c@x.com", Bcc: "b@x.com"},
			want: []string{
				"To: a@x.com",
				"Subject: S",
				"Content-Type: text/html; charset=utf-8",
				"MIME-Version: 1.0",
				"Cc: c@x.com",
				"Bcc: b@x.com",
				"",
				"hi",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, strings.Join(tt.want, "\r\n"), tt.msg.Raw())
		})
	}
}

func TestMessageEncodeRoundTrip(t *testing.T) {
	msg := Message{To: "a@x.com", Subject: "S", Body: "<p>B</p>"}

	encoded := msg.Encode()

	decoded, err := base64.URLEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, msg.Raw(), string(decoded), "decoded raw message must match byte-for-byte")
}

func TestMessageEncodeIsURLSafe(t *testing.T) {
	// A body chosen so that standard base64 would emit '+' and '/'
	msg := Message{To: "a@x.com", Subject: "S", Body: strings.Repeat("\xfb\xff\xbe", 20)}

	encoded := msg.Encode()

	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")
}
