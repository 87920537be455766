package snapshot

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/adiibanez/sensocto/internal/room"
	"github.com/adiibanez/sensocto/internal/snapshot/store"
)

// RoomStore adapts a content-addressed store.Backend into room.SnapshotStore:
// each Save writes the encoded blob under its content hash and updates a
// small pointer object recording the latest hash for the room, so Load can
// find it without the caller needing to track hashes itself.
type RoomStore struct {
	backend store.Backend
}

func NewRoomStore(backend store.Backend) *RoomStore {
	return &RoomStore{backend: backend}
}

func blobKey(roomID string, hash [32]byte) string {
	return fmt.Sprintf("rooms/%s/%s.snap", roomID, hex.EncodeToString(hash[:]))
}

func pointerKey(roomID string) string {
	return fmt.Sprintf("rooms/%s/LATEST", roomID)
}

func (s *RoomStore) Save(ctx context.Context, roomID string, state room.State) error {
	blob, err := Encode(state)
	if err != nil {
		return err
	}
	key := blobKey(roomID, blob.Hash)
	if err := s.backend.Put(ctx, key, blob.Data); err != nil {
		return err
	}
	return s.backend.Put(ctx, pointerKey(roomID), []byte(key))
}

func (s *RoomStore) Load(ctx context.Context, roomID string) (room.State, bool, error) {
	ptr, err := s.backend.Get(ctx, pointerKey(roomID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return room.State{}, false, nil
		}
		return room.State{}, false, err
	}
	data, err := s.backend.Get(ctx, string(ptr))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return room.State{}, false, nil
		}
		return room.State{}, false, err
	}
	state, err := Decode(data)
	if err != nil {
		return room.State{}, false, err
	}
	return state, true, nil
}
