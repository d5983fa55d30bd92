package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
)

// snapshot stores every data key as a JSON array of [key, value] pairs, along
// with the version the data was at.
func (r *Runner) snapshot(ctx context.Context, version int) error {
	keys, err := r.dataKeys(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	pairs, err := r.backing.MultiGet(ctx, keys)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	entries := make([][2]string, 0, len(pairs))

	for _, p := range pairs {
		if p.Found {
			entries = append(entries, [2]string{p.Key, p.Value})
		}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	err = r.backing.Set(ctx, BackupKey, string(data))
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	err = r.backing.Set(ctx, BackupVersionKey, strconv.Itoa(version))
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	r.log.WithField("keys", len(entries)).Debug("stored pre-migration snapshot")

	return nil
}

// Restore replaces all data keys with the latest snapshot and rewinds the
// version to the one the snapshot was taken at, so the next Perform replays
// the steps that followed it.
//
// Snapshots written by older clients have no recorded version; restoring one
// leaves the version unchanged.
func (r *Runner) Restore(ctx context.Context) error {
	raw, ok, err := r.backing.Get(ctx, BackupKey)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	if !ok {
		return ErrNoBackup
	}

	entries, err := decodeSnapshot(raw)
	if err != nil {
		return err
	}

	keys, err := r.dataKeys(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	var result *multierror.Error

	for _, k := range keys {
		err = r.backing.Remove(ctx, k)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", k, err))
		}
	}

	if result.ErrorOrNil() != nil {
		return fmt.Errorf("restore: %w", result)
	}

	for _, e := range entries {
		err = r.backing.Set(ctx, e[0], e[1])
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("write %s: %w", e[0], err))
		}
	}

	if result.ErrorOrNil() != nil {
		return fmt.Errorf("restore: %w", result)
	}

	_, hasVersion, err := r.backing.Get(ctx, BackupVersionKey)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	if hasVersion {
		v, err := r.readInt(ctx, BackupVersionKey)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}

		err = r.backing.Set(ctx, VersionKey, strconv.Itoa(v))
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	r.log.WithField("keys", len(entries)).Info("restored pre-migration snapshot")

	return nil
}

// decodeSnapshot reads [key, value] pairs. Values that are not JSON strings
// (older clients stored some values unquoted) are kept as their JSON text;
// null values are dropped.
func decodeSnapshot(raw string) ([][2]string, error) {
	var pairs [][]json.RawMessage

	err := json.Unmarshal([]byte(raw), &pairs)
	if err != nil {
		return nil, fmt.Errorf("%w: backup: %w", ErrCorrupt, err)
	}

	out := make([][2]string, 0, len(pairs))

	for i, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: backup entry %d has %d elements", ErrCorrupt, i, len(p))
		}

		var key string

		err = json.Unmarshal(p[0], &key)
		if err != nil {
			return nil, fmt.Errorf("%w: backup entry %d key: %w", ErrCorrupt, i, err)
		}

		if string(p[1]) == "null" {
			continue
		}

		var value string
		if json.Unmarshal(p[1], &value) != nil {
			value = string(p[1])
		}

		out = append(out, [2]string{key, value})
	}

	return out, nil
}
