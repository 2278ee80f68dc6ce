package motd

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/pingcache/internal/protocol"
	"github.com/energizer-project/pingcache/internal/text"
)

type statusDoc struct {
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
		Sample []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"sample"`
	} `json:"players"`
	Description json.RawMessage `json:"description"`
	Version     struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Favicon string `json:"favicon"`
}

func testRenderer() TextRenderer {
	return text.NewLegacyRenderer('&')
}

func testDeps(t *testing.T) BuildDeps {
	t.Helper()
	return BuildDeps{
		Renderer: testRenderer(),
		Favicons: NewFaviconCache(t.TempDir(), zerolog.Nop()),
		Logger:   zerolog.Nop(),
	}
}

// decodeStatus checks the framing of a binary response and decodes its
// JSON document.
func decodeStatus(t *testing.T, data []byte) statusDoc {
	t.Helper()

	outer, n, err := protocol.DecodeVarInt(data)
	require.NoError(t, err)
	require.Equal(t, len(data)-n, int(outer), "outer length must cover the rest of the packet")
	require.Equal(t, byte(0x00), data[n], "status response id")

	doc, err := protocol.DecodeStatusResponse(data[n+1:])
	require.NoError(t, err)

	var out statusDoc
	require.NoError(t, json.Unmarshal([]byte(doc), &out), doc)
	return out
}

// decodeLegacy checks the framing of a legacy reply and returns its text.
func decodeLegacy(t *testing.T, data []byte) string {
	t.Helper()

	require.Equal(t, protocol.LegacyKickMarker, data[0])
	chars := int(data[1])<<8 | int(data[2])
	require.Equal(t, len(data)-3, chars*2)

	s, err := protocol.DecodeUTF16BE(data[3:])
	require.NoError(t, err)
	return s
}

// writePNG writes a size x size PNG into dir and returns its path.
func writePNG(t *testing.T, dir, name string, size int) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size))))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}
