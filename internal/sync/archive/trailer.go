// Package archive provides the content digest, the hardcore trailer codec and
// deterministic zip helpers shared by the save format handlers and the
// snapshot cache.
package archive

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// TrailerMagic closes every hardcore trailer.
const TrailerMagic = "ARGOSY\x01\x00"

const (
	trailerFixedSize  = 4 + len(TrailerMagic)
	maxTrailerPayload = 1024
	trailerVersion    = 1
)

// TrailerInfo is the JSON payload carried by the trailer.
type TrailerInfo struct {
	Hardcore bool `json:"h"`
	Version  int  `json:"v"`
}

// EncodeTrailer renders the trailer: payload, little-endian uint32 payload
// length, magic.
func EncodeTrailer(info TrailerInfo) []byte {
	if info.Version == 0 {
		info.Version = trailerVersion
	}
	payload, _ := json.Marshal(info)

	buf := make([]byte, 0, len(payload)+trailerFixedSize)
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, TrailerMagic...)
	return buf
}

// HardcoreTrailer is the trailer appended to hardcore artifacts.
func HardcoreTrailer() []byte {
	return EncodeTrailer(TrailerInfo{Hardcore: true, Version: trailerVersion})
}

// ParseTrailer decodes a trailer at the end of data. It returns the payload,
// the total trailer length, and whether a well-formed trailer was found.
func ParseTrailer(data []byte) (TrailerInfo, int, bool) {
	var info TrailerInfo
	if len(data) < trailerFixedSize {
		return info, 0, false
	}
	if !bytes.HasSuffix(data, []byte(TrailerMagic)) {
		return info, 0, false
	}

	lenAt := len(data) - trailerFixedSize
	n := int(binary.LittleEndian.Uint32(data[lenAt : lenAt+4]))
	if n <= 0 || n > maxTrailerPayload || n > lenAt {
		return info, 0, false
	}
	if err := json.Unmarshal(data[lenAt-n:lenAt], &info); err != nil {
		return info, 0, false
	}
	return info, n + trailerFixedSize, true
}

// HasHardcoreTrailer reports whether data ends with a hardcore trailer.
func HasHardcoreTrailer(data []byte) bool {
	info, _, ok := ParseTrailer(data)
	return ok && info.Hardcore
}

// StripTrailer returns data without a trailing trailer, if one is present.
func StripTrailer(data []byte) []byte {
	if _, n, ok := ParseTrailer(data); ok {
		return data[:len(data)-n]
	}
	return data
}

// AppendHardcoreTrailer appends the hardcore trailer to the file at path.
func AppendHardcoreTrailer(fs afero.Fs, path string) error {
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open for trailer: %w", err)
	}
	if _, err := f.Write(HardcoreTrailer()); err != nil {
		f.Close()
		return fmt.Errorf("write trailer: %w", err)
	}
	return f.Close()
}

// FileHasHardcoreTrailer inspects only the tail of the file at path.
func FileHasHardcoreTrailer(fs afero.Fs, path string) (bool, error) {
	f, err := fs.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	tailSize := int64(maxTrailerPayload + trailerFixedSize)
	if info.Size() < tailSize {
		tailSize = info.Size()
	}
	tail := make([]byte, tailSize)
	if _, err := f.ReadAt(tail, info.Size()-tailSize); err != nil && err != io.EOF {
		return false, err
	}
	return HasHardcoreTrailer(tail), nil
}

// ReadWithoutTrailer reads the file at path with any trailer removed.
func ReadWithoutTrailer(fs afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return StripTrailer(data), nil
}
