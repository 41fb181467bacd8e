package png_info_extractor

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	pngHeader = "\x89PNG\r\n\x1a\n"

	parametersKeyword = "parameters"

	// chunks bigger than this are not metadata
	maxChunkLength = 64 << 20
)

// Each chunk starts with a uint32 length (big endian), then the 4 byte type,
// then data and finally the CRC32 of type and data.
type chunk struct {
	ctype string
	data  []byte
}

func readChunk(r io.Reader) (*chunk, error) {
	header := make([]byte, 8)

	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:4])
	if length > maxChunkLength {
		return nil, fmt.Errorf("chunk length %d too large", length)
	}

	c := &chunk{
		ctype: string(header[4:8]),
		data:  make([]byte, length),
	}

	if _, err := io.ReadFull(r, c.data); err != nil {
		return nil, err
	}

	// the CRC is not verified
	if _, err := io.ReadFull(r, header[:4]); err != nil {
		return nil, err
	}

	return c, nil
}

type extractorImpl struct {
	text map[string]string
}

type Config struct {
	PngData []byte
}

func New(cfg Config) (Extractor, error) {
	if cfg.PngData == nil {
		return nil, errors.New("png data is nil")
	}

	reader := bytes.NewReader(cfg.PngData)

	header := make([]byte, len(pngHeader))
	if _, err := io.ReadFull(reader, header); err != nil {
		return nil, fmt.Errorf("reading png header: %w", err)
	}

	if string(header) != pngHeader {
		return nil, errors.New("wrong PNG header")
	}

	extractor := &extractorImpl{text: make(map[string]string)}

	for {
		c, err := readChunk(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, err
		}

		if c.ctype == "IEND" {
			break
		}

		keyword, value, ok := decodeTextChunk(c)
		if ok {
			extractor.text[keyword] = value
		}
	}

	return extractor, nil
}

// decodeTextChunk reads tEXt, zTXt and iTXt chunks.
// http://www.libpng.org/pub/png/spec/1.2/PNG-Chunks.html#C.Anc-text
func decodeTextChunk(c *chunk) (string, string, bool) {
	keyword, rest, found := bytes.Cut(c.data, []byte{0})
	if !found {
		return "", "", false
	}

	switch c.ctype {
	case "tEXt":
		return string(keyword), string(rest), true
	case "zTXt":
		// compression method byte, then a zlib stream
		if len(rest) < 1 || rest[0] != 0 {
			return "", "", false
		}

		value, err := inflate(rest[1:])
		if err != nil {
			return "", "", false
		}

		return string(keyword), value, true
	case "iTXt":
		// compression flag, compression method, language tag\0, translated keyword\0, text
		if len(rest) < 2 {
			return "", "", false
		}

		compressed := rest[0] == 1

		_, afterLang, ok := bytes.Cut(rest[2:], []byte{0})
		if !ok {
			return "", "", false
		}

		_, text, ok := bytes.Cut(afterLang, []byte{0})
		if !ok {
			return "", "", false
		}

		if !compressed {
			return string(keyword), string(text), true
		}

		value, err := inflate(text)
		if err != nil {
			return "", "", false
		}

		return string(keyword), value, true
	}

	return "", "", false
}

func inflate(data []byte) (string, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	defer reader.Close()

	out, err := io.ReadAll(io.LimitReader(reader, maxChunkLength))
	if err != nil {
		return "", err
	}

	return string(out), nil
}

func (e *extractorImpl) Parameters() (string, bool) {
	value, ok := e.text[parametersKeyword]

	return value, ok
}

func (e *extractorImpl) Text() map[string]string {
	text := make(map[string]string, len(e.text))
	for keyword, value := range e.text {
		text[keyword] = value
	}

	return text
}
