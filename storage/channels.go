//go:generate go run go.uber.org/mock/mockgen -source=channels.go -destination=../mocks/mock_channel_repository.go -package=mocks
package storage

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"pairwire/domain"
	"pairwire/errors"
)

type IChannelRepository interface {
	GetOrCreate(pair [2]string) (domain.Channel, bool, error)
	GetByID(id domain.ChannelID) (domain.Channel, error)
}

type ChannelRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewChannelRepository(db *badger.DB, log *slog.Logger) ChannelRepository {
	return ChannelRepository{db: db, log: log}
}

// diskChannel is the stored representation of a channel record.
type diskChannel struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Key layout:
//
//	chan:pair:{low}:{high} -> channel record   (uniqueness on the unordered pair)
//	chan:id:{uuid}         -> pair key         (lookup by channel id)
func pairKey(pair [2]string) []byte {
	return []byte(fmt.Sprintf("chan:pair:%s:%s", pair[0], pair[1]))
}

func idKey(id domain.ChannelID) []byte {
	return []byte("chan:id:" + string(id))
}

// GetOrCreate resolves the single channel for an unordered participant pair,
// creating it lazily on first contact. The lookup and the create happen in
// one transaction: when both participants race on first contact, one commit
// wins and the loser's retry reads the winner's record, so exactly one
// channel ever exists per pair. The second return value reports creation.
func (r ChannelRepository) GetOrCreate(pair [2]string) (domain.Channel, bool, error) {
	var (
		out     domain.Channel
		created bool
	)
	err := update(r.db, func(txn *badger.Txn) error {
		created = false
		raw, err := getValue(txn, pairKey(pair))
		switch {
		case err == nil:
			ch, err := decodeChannel(raw)
			if err != nil {
				return err
			}
			out = ch
			return nil
		case goerrors.Is(err, badger.ErrKeyNotFound):
			now := time.Now().UTC()
			rec := diskChannel{
				ID:           uuid.NewString(),
				Participants: pair,
				CreatedAt:    now,
				LastActivity: now,
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(pairKey(pair), data); err != nil {
				return err
			}
			if err := txn.Set(idKey(domain.ChannelID(rec.ID)), pairKey(pair)); err != nil {
				return err
			}
			out = toChannel(rec)
			created = true
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return domain.Channel{}, false, err
	}
	if created {
		r.log.Info("Channel created", "channel_id", out.ID,
			"participants", fmt.Sprintf("%s,%s", pair[0], pair[1]))
	}
	return out, created, nil
}

// GetByID resolves a channel through the id index.
// Unknown ids map to ErrChannelNotFound.
func (r ChannelRepository) GetByID(id domain.ChannelID) (domain.Channel, error) {
	var out domain.Channel
	err := r.db.View(func(txn *badger.Txn) error {
		pk, err := getValue(txn, idKey(id))
		if err != nil {
			return err
		}
		raw, err := getValue(txn, pk)
		if err != nil {
			return err
		}
		ch, err := decodeChannel(raw)
		if err != nil {
			return err
		}
		out = ch
		return nil
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Channel{}, errors.ErrChannelNotFound
	}
	return out, err
}

// touchActivity refreshes the channel's last-activity timestamp inside an
// already-open transaction (shared with message appends).
func touchActivity(txn *badger.Txn, id domain.ChannelID, at time.Time) error {
	pk, err := getValue(txn, idKey(id))
	if err != nil {
		return err
	}
	raw, err := getValue(txn, pk)
	if err != nil {
		return err
	}
	var rec diskChannel
	if err := json.Unmarshal(raw, &rec); err != nil {
		return err
	}
	rec.LastActivity = at
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(pk, data)
}

func decodeChannel(raw []byte) (domain.Channel, error) {
	var rec diskChannel
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Channel{}, err
	}
	return toChannel(rec), nil
}

func toChannel(rec diskChannel) domain.Channel {
	return domain.Channel{
		ID:           domain.ChannelID(rec.ID),
		Participants: rec.Participants,
		CreatedAt:    rec.CreatedAt.UTC(),
		LastActivity: rec.LastActivity.UTC(),
	}
}
