package payload

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// The resource region is appended to a built binary: blob bytes back to
// back, a JSON index, the index length (uint32 LE), and a fixed 8-byte
// magic identifying the region type. The magic doubles as the reserved
// resource-type identifier: an image without it simply has no resources.
var resourceMagic = [8]byte{'T', 'L', 'N', 'R', 'S', 'C', '1', '0'}

const trailerSize = 4 + 8 // index length + magic

type resourceEntry struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

// ErrNoResourceRegion indicates the image carries no resource region at all.
var ErrNoResourceRegion = errors.New("no resource region in image")

// ExeExtractor reads named resources from an executable image on disk.
// An empty Path means the currently-running executable.
type ExeExtractor struct {
	Path string
}

// Extract returns the bytes of the named resource. Failures preserve the
// underlying OS error for diagnostics.
func (x *ExeExtractor) Extract(name string) ([]byte, error) {
	path := x.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating own image: %w", err)
		}
		path = exe
	}

	f, err := os.Open(path) // #nosec G304 -- own executable or caller-supplied image
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	index, err := readIndex(f)
	if err != nil {
		return nil, err
	}

	entry, ok := index[name]
	if !ok {
		return nil, fmt.Errorf("resource %q not present in image", name)
	}
	if entry.Size <= 0 {
		return nil, fmt.Errorf("resource %q has zero size", name)
	}

	data := make([]byte, entry.Size)
	if _, err := f.ReadAt(data, entry.Offset); err != nil {
		return nil, fmt.Errorf("reading resource %q: %w", name, err)
	}
	return data, nil
}

func readIndex(f *os.File) (map[string]resourceEntry, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if info.Size() < trailerSize {
		return nil, ErrNoResourceRegion
	}

	trailer := make([]byte, trailerSize)
	if _, err := f.ReadAt(trailer, info.Size()-trailerSize); err != nil {
		return nil, fmt.Errorf("reading image trailer: %w", err)
	}
	if [8]byte(trailer[4:12]) != resourceMagic {
		return nil, ErrNoResourceRegion
	}

	indexLen := int64(binary.LittleEndian.Uint32(trailer[:4]))
	indexStart := info.Size() - trailerSize - indexLen
	if indexLen == 0 || indexStart < 0 {
		return nil, fmt.Errorf("corrupt resource index (length %d)", indexLen)
	}

	raw := make([]byte, indexLen)
	if _, err := f.ReadAt(raw, indexStart); err != nil {
		return nil, fmt.Errorf("reading resource index: %w", err)
	}

	var index map[string]resourceEntry
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("decoding resource index: %w", err)
	}
	return index, nil
}

// AppendResources writes a resource region holding blobs to the end of the
// image at path. Packaging uses it to attach tools post-build; tests use it
// to produce images the extractor understands. Appending to an image that
// already has a region shadows the old one.
func AppendResources(path string, blobs map[string][]byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("opening image for append: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}
	offset := info.Size()

	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)

	index := make(map[string]resourceEntry, len(blobs))
	for _, name := range names {
		data := blobs[name]
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("writing resource %q: %w", name, err)
		}
		index[name] = resourceEntry{Offset: offset, Size: int64(len(data))}
		offset += int64(len(data))
	}

	raw, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encoding resource index: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("writing resource index: %w", err)
	}

	trailer := make([]byte, trailerSize)
	binary.LittleEndian.PutUint32(trailer[:4], uint32(len(raw))) // #nosec G115 -- index is far below 4GiB
	copy(trailer[4:], resourceMagic[:])
	if _, err := f.Write(trailer); err != nil {
		return fmt.Errorf("writing image trailer: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ Extractor = (*ExeExtractor)(nil)
