package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// Checkpoint is the position of the last handled event. It satisfies the
// gateway client's checkpoint interface so streams resume after it.
type Checkpoint struct {
	Block uint64 `json:"block"`
	TxID  string `json:"txId"`
}

func (c *Checkpoint) BlockNumber() uint64   { return c.Block }
func (c *Checkpoint) TransactionID() string { return c.TxID }

var checkpointKey = []byte("events/registry")

// CheckpointStore persists the event checkpoint in a local LevelDB.
type CheckpointStore struct {
	db *leveldb.DB
}

func OpenCheckpointStore(path string) (*CheckpointStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}
	return &CheckpointStore{db: db}, nil
}

// Load returns nil when no checkpoint has been saved yet.
func (s *CheckpointStore) Load() (*Checkpoint, error) {
	data, err := s.db.Get(checkpointKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *CheckpointStore) Save(cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := s.db.Put(checkpointKey, data, nil); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) Close() error {
	return s.db.Close()
}
