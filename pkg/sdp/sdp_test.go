package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFull(t *testing.T) {
	body := "v=0\n" +
		"o=- 1234567890123456 IN IP4 192.168.1.10\n" +
		"c=IN IP4 192.168.1.10\n" +
		"m=audio 41000 RTP/AVP 7\n" +
		"m=video 41002 RTP/AVP 1"

	s, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Version)
	assert.Equal(t, "1234567890123456", s.SessionID)
	assert.Equal(t, "192.168.1.10", s.IP)
	assert.Equal(t, 41000, s.AudioPort)
	assert.Equal(t, "7", s.AudioFormat)
	assert.Equal(t, 41002, s.VideoPort)
	assert.Equal(t, "1", s.VideoFormat)
}

func TestParseToleratesOptionalLines(t *testing.T) {
	body := "v=0\n" +
		"o=- 1 IN IP4 10.0.0.1\n" +
		"s=call\n" +
		"c=IN IP4 10.0.0.1\n" +
		"t=0 0\n" +
		"a=sendrecv\n" +
		"m=audio 42000 RTP/AVP 7"

	s, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, 42000, s.AudioPort)
	assert.Zero(t, s.VideoPort)
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{
			name: "nonzero version",
			body: "v=1\no=- 1 IN IP4 10.0.0.1\nc=IN IP4 10.0.0.1\nm=audio 1 RTP/AVP 7",
			want: ErrBadVersion,
		},
		{
			name: "address mismatch",
			body: "v=0\no=- 1 IN IP4 10.0.0.1\nc=IN IP4 10.0.0.2\nm=audio 1 RTP/AVP 7",
			want: ErrIPMismatch,
		},
		{
			name: "missing media line",
			body: "v=0\no=- 1 IN IP4 10.0.0.1\nc=IN IP4 10.0.0.1",
			want: ErrMissingRequired,
		},
		{
			name: "missing origin",
			body: "v=0\nc=IN IP4 10.0.0.1\nm=audio 1 RTP/AVP 7",
			want: ErrMissingRequired,
		},
		{
			name: "malformed line",
			body: "v=0\no=- 1 IN IP4 10.0.0.1\nc=IN IP4 10.0.0.1\nnonsense\nm=audio 1 RTP/AVP 7",
			want: ErrBadLine,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.body)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	s := &Session{
		SessionID:   GenerateSessionID(),
		IP:          "127.0.0.1",
		AudioPort:   41000,
		AudioFormat: DefaultAudioFormat,
		VideoPort:   41002,
		VideoFormat: DefaultVideoFormat,
	}
	body, err := s.Marshal()
	require.NoError(t, err)

	got, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestMarshalRefusesIncomplete(t *testing.T) {
	_, err := (&Session{IP: "1.2.3.4"}).Marshal()
	assert.ErrorIs(t, err, ErrNotBuildable)

	_, err = (&Session{SessionID: "1", IP: "1.2.3.4"}).Marshal()
	assert.ErrorIs(t, err, ErrNotBuildable)

	// Port and format only travel together; a half-set pair would emit a
	// body that fails to parse on the other side.
	_, err = (&Session{SessionID: "1", IP: "1.2.3.4", AudioPort: 41000}).Marshal()
	assert.ErrorIs(t, err, ErrNotBuildable)

	_, err = (&Session{SessionID: "1", IP: "1.2.3.4", AudioPort: 41000, AudioFormat: "7", VideoFormat: "1"}).Marshal()
	assert.ErrorIs(t, err, ErrNotBuildable)
}

func TestGenerateSessionID(t *testing.T) {
	id := GenerateSessionID()
	assert.Len(t, id, 16)
	for _, r := range id {
		assert.True(t, r >= '0' && r <= '9')
	}
}
