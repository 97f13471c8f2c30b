package widget

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// inlineImageSize reports the pixel size of a data: URI image so the
// rendered <img> can reserve its box. Remote images are never fetched.
func inlineImageSize(src string) (int, int, bool) {
	// data:[<mediatype>][;base64],<data>
	comma := strings.IndexByte(src, ',')
	if !strings.HasPrefix(src, "data:") || comma == -1 {
		return 0, 0, false
	}
	meta := src[len("data:"):comma]
	data := src[comma+1:]
	var raw []byte
	if strings.Contains(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return 0, 0, false
		}
		raw = b
	} else {
		s, err := url.PathUnescape(data)
		if err != nil {
			return 0, 0, false
		}
		raw = []byte(s)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
