package index

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang/snappy"

	qerrors "github.com/quiverdb/quiver/internal/errors"
)

// SaveImage writes v as a snappy-compressed JSON image at path. The write
// goes through a temp file and rename so a crash never leaves a torn image.
func SaveImage(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return qerrors.NewInternalError("marshal index image", err)
	}
	compressed := snappy.Encode(nil, data)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0644); err != nil {
		return qerrors.NewStorageError(qerrors.CodeUnexpected, "write index image", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return qerrors.NewStorageError(qerrors.CodeUnexpected, "replace index image", err)
	}
	return nil
}

// LoadImage reads a snappy-compressed JSON image into v. A missing file is
// reported via os.IsNotExist on the returned error's cause; an unreadable
// image is a storage error, which callers treat as "rebuild from data file".
func LoadImage(path string, v any) error {
	compressed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return qerrors.NewStorageError(qerrors.CodeUnexpected, "read index image", err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return qerrors.NewStorageError(qerrors.CodeCorruptImage,
			fmt.Sprintf("decompress index image %s", path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return qerrors.NewStorageError(qerrors.CodeCorruptImage,
			fmt.Sprintf("decode index image %s", path), err)
	}
	return nil
}
