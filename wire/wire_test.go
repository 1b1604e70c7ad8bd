package wire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildQuery(id uint16, name string) []byte {
	buf := make([]byte, headerSize)
	WriteTransactionID(buf, id)
	for _, label := range splitName(name) {
		buf = append(buf, byte(len(label)))
		buf = append(buf, []byte(label)...)
	}
	buf = append(buf, 0x00)
	buf = append(buf, 0x00, 0x01, 0x00, 0x01) // QTYPE A, QCLASS IN
	return buf
}

func splitName(name string) []string {
	var labels []string
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	if start < len(name) {
		labels = append(labels, name[start:])
	}
	return labels
}

func TestExtractQName(t *testing.T) {
	buf := buildQuery(0x1234, "Example.COM")
	name, err := ExtractQName(buf)
	require.NoError(t, err)
	assert.Equal(t, "example.com", name)
}

func TestExtractQNameTruncated(t *testing.T) {
	buf := buildQuery(0x1234, "example.com")
	// Cut the buffer before the root label is reached.
	truncated := buf[:headerSize+3]
	_, err := ExtractQName(truncated)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestExtractQNameShortHeader(t *testing.T) {
	_, err := ExtractQName([]byte{0x12, 0x34})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestTransactionIDRoundTrip(t *testing.T) {
	buf := buildQuery(0x1234, "example.com")
	orig, err := ReadTransactionID(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), orig)

	require.NoError(t, WriteTransactionID(buf, 0xAAAA))
	got, err := ReadTransactionID(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xAAAA), got)

	// rewrite-then-rewrite back to the original is the identity
	require.NoError(t, WriteTransactionID(buf, orig))
	got, err = ReadTransactionID(buf)
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestFingerprintLength(t *testing.T) {
	ip := net.ParseIP("127.0.0.1")
	fp := Fingerprint(ip, 44444, 0x1234, "example.com", time.Now(), 1, []byte("seed"))
	assert.Len(t, fp, 16)
	for _, c := range fp {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}

func TestFingerprintDiffersOnCounter(t *testing.T) {
	ip := net.ParseIP("127.0.0.1")
	now := time.Now()
	a := Fingerprint(ip, 44444, 0x1234, "example.com", now, 1, []byte("seed"))
	b := Fingerprint(ip, 44444, 0x1234, "example.com", now, 2, []byte("seed"))
	assert.NotEqual(t, a, b)
}
