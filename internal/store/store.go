package store

import (
	"context"

	"github.com/tanq16/velodown/internal/utils"
	"gopkg.in/yaml.v3"
)

// Store persists the whole registry as one document.
type Store interface {
	Load(ctx context.Context) (utils.Snapshot, error)
	Save(ctx context.Context, snap utils.Snapshot) error
}

func emptySnapshot() utils.Snapshot {
	return utils.Snapshot{Downloads: []utils.DownloadTask{}, Settings: utils.DefaultSettings()}
}

func encode(snap utils.Snapshot) ([]byte, error) {
	if snap.Downloads == nil {
		snap.Downloads = []utils.DownloadTask{}
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return nil, &utils.PersistenceError{Op: "encode", Err: err}
	}
	return data, nil
}

// decode fills a default snapshot so that settings missing from older
// documents keep their default values.
func decode(data []byte) (utils.Snapshot, error) {
	snap := emptySnapshot()
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return emptySnapshot(), &utils.PersistenceError{Op: "decode", Err: err}
	}
	if snap.Downloads == nil {
		snap.Downloads = []utils.DownloadTask{}
	}
	return snap, nil
}
