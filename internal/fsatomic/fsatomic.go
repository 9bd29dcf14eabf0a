// Package fsatomic provides crash-safe file persistence: temp-then-rename
// atomic writes, and lock-protected read-modify-write helpers that every
// concurrent mutation of shared project state must funnel through.
package fsatomic

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/stewardhq/steward/internal/lockfile"
)

// WriteAtomic writes data to path atomically: the bytes land in a uniquely
// named temp file in the same directory (so the rename is same-filesystem
// and atomic), then rename over the destination. On failure the temp file
// is removed and the destination is untouched.
func WriteAtomic(path string, data []byte) error {
	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Errorf("generating temp suffix: %w", err)
	}
	tmp := path + ".tmp." + hex.EncodeToString(suffix)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// WriteJSONAtomic marshals v as indented JSON and writes it atomically.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return WriteAtomic(path, append(data, '\n'))
}

// WriteJSONExclusive marshals v as indented JSON into a file that must not
// yet exist. The O_EXCL create makes concurrent first-writers race safely:
// exactly one wins, the rest see an error satisfying os.IsExist.
func WriteJSONExclusive(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// UpdateLocked performs a lock-protected read-modify-write of the JSON
// document at path. The current value (or fallback when the file is absent)
// is passed to fn; fn's result is written atomically. The lock is released
// on every exit path, and on any error the file on disk is left unchanged.
func UpdateLocked[T any](path string, opts lockfile.Options, fallback T, fn func(T) (T, error)) (T, error) {
	var zero T

	lock, err := lockfile.Acquire(path, opts)
	if err != nil {
		return zero, err
	}
	defer lock.Release()

	current := fallback
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fresh document; start from fallback.
	case err != nil:
		return zero, fmt.Errorf("reading %s: %w", path, err)
	default:
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return zero, fmt.Errorf("decoding %s: %w", path, err)
		}
		current = v
	}

	next, err := fn(current)
	if err != nil {
		return zero, err
	}
	if err := WriteJSONAtomic(path, next); err != nil {
		return zero, err
	}
	return next, nil
}

// PatchLocked deep-merges patch into the JSON object at path under a lock.
// Nested objects merge key-by-key; arrays and scalars in the patch replace
// the target value wholesale; an explicit nil is written as JSON null.
// Keys absent from the patch are never deleted.
func PatchLocked(path string, opts lockfile.Options, patch map[string]any) (map[string]any, error) {
	return UpdateLocked(path, opts, map[string]any{}, func(current map[string]any) (map[string]any, error) {
		if current == nil {
			current = map[string]any{}
		}
		return deepMerge(current, patch), nil
	})
}

func deepMerge(target, patch map[string]any) map[string]any {
	for key, val := range patch {
		pm, patchIsMap := val.(map[string]any)
		tm, targetIsMap := target[key].(map[string]any)
		if patchIsMap && targetIsMap {
			target[key] = deepMerge(tm, pm)
			continue
		}
		target[key] = val
	}
	return target
}
