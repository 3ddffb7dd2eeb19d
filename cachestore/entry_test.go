package cachestore

import (
	"net/http"
	"testing"
	"time"

	"github.com/hupe1980/edgecache/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryEncodeDecode(t *testing.T) {
	in := &Entry{
		Status: 200,
		Header: http.Header{
			"Content-Type":  []string{"text/html; charset=utf-8"},
			"Cache-Control": []string{"no-cache"},
		},
		Body:       []byte("<html><body>timetable</body></html>"),
		InsertedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Seq:        42,
	}

	data, err := encodeEntry("GET https://example.com/", in, codec.Default, CompressionZSTD)
	require.NoError(t, err)

	key, out, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, Key("GET https://example.com/"), key)
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, "text/html; charset=utf-8", out.Header.Get("Content-Type"))
	assert.Equal(t, in.Body, out.Body)
	assert.True(t, in.InsertedAt.Equal(out.InsertedAt))
	assert.Equal(t, in.Seq, out.Seq)
}

func TestEntryDecodeSelectsCodecByName(t *testing.T) {
	// Written with the stdlib codec, decoded without knowing that.
	data, err := encodeEntry("k", &Entry{Status: 204}, codec.JSON{}, CompressionNone)
	require.NoError(t, err)

	key, out, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, Key("k"), key)
	assert.Equal(t, 204, out.Status)
}

func TestEntryDecodeRejectsGarbage(t *testing.T) {
	_, _, err := decodeEntry(nil)
	assert.Error(t, err)

	_, _, err = decodeEntry([]byte("XXXX rest"))
	assert.ErrorContains(t, err, "magic")

	good, err := encodeEntry("k", &Entry{Status: 200, Body: []byte("body")}, codec.Default, CompressionNone)
	require.NoError(t, err)

	_, _, err = decodeEntry(good[:8])
	assert.Error(t, err)
}
