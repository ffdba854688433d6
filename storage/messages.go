//go:generate go run go.uber.org/mock/mockgen -source=messages.go -destination=../mocks/mock_message_repository.go -package=mocks
package storage

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"pairwire/domain"
	"pairwire/errors"
)

type IMessageRepository interface {
	Append(channelID domain.ChannelID, senderID, senderName, content, tempID string) (domain.Message, bool, error)
	ListSince(channelID domain.ChannelID, cursor *string, limit int) ([]domain.Message, *string, error)
	MarkRead(channelID domain.ChannelID, messageIDs []string, readerID string) ([]domain.Message, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// diskMessage is the stored representation of a message record.
// ReadBy only ever grows; everything else is immutable after append.
type diskMessage struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	At         time.Time `json:"at"`
	ReadBy     []string  `json:"read_by"`
}

// Key layout:
//
//	msg:{channel}:{unixnano:019d}:{uuid}  -> message record
//	msgidx:{channel}:{uuid}               -> primary key
//	tempidx:{channel}:{sender}:{tempID}   -> primary key (replay dedup)
//
// The 19-digit zero-padded timestamp makes lexicographic key order equal
// chronological order; the trailing uuid disambiguates same-nanosecond
// appends so the (timestamp, identifier) order is total.
func messageKey(channelID domain.ChannelID, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", channelID, at.UnixNano(), id))
}

func messagePrefix(channelID domain.ChannelID) []byte {
	return []byte(fmt.Sprintf("msg:%s:", channelID))
}

func messageIndexKey(channelID domain.ChannelID, id string) []byte {
	return []byte(fmt.Sprintf("msgidx:%s:%s", channelID, id))
}

func tempIndexKey(channelID domain.ChannelID, senderID, tempID string) []byte {
	return []byte(fmt.Sprintf("tempidx:%s:%s:%s", channelID, senderID, tempID))
}

// Append assigns the server timestamp and identifier, persists the message,
// and refreshes the channel's last-activity stamp in the same transaction.
// The sender is pre-seeded into the read-by set. Empty or oversized content
// is rejected before any write.
//
// When tempID is set, the append is idempotent on (channel, sender, tempID):
// a replayed send whose first attempt was stored but whose acknowledgement
// was lost returns the existing canonical message instead of appending a
// second one. The second result reports whether a new record was created.
func (m MessageRepository) Append(channelID domain.ChannelID, senderID, senderName, content, tempID string) (domain.Message, bool, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || len(content) > domain.MaxContentLength {
		return domain.Message{}, false, errors.ErrInvalidContent
	}

	rec := diskMessage{
		ID:         uuid.NewString(),
		ChannelID:  string(channelID),
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		At:         time.Now().UTC(),
		ReadBy:     []string{senderID},
	}

	var stored diskMessage
	var created bool
	err := update(m.db, func(txn *badger.Txn) error {
		created = false
		// Reject unknown channels before writing anything.
		if _, err := txn.Get(idKey(channelID)); err != nil {
			if goerrors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrChannelNotFound
			}
			return err
		}

		if tempID != "" {
			pk, err := getValue(txn, tempIndexKey(channelID, senderID, tempID))
			switch {
			case err == nil:
				raw, err := getValue(txn, pk)
				if err != nil {
					return err
				}
				return json.Unmarshal(raw, &stored)
			case !goerrors.Is(err, badger.ErrKeyNotFound):
				return err
			}
		}

		stored = rec
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		pk := messageKey(channelID, rec.At, rec.ID)
		if err := txn.Set(pk, data); err != nil {
			return err
		}
		if err := txn.Set(messageIndexKey(channelID, rec.ID), pk); err != nil {
			return err
		}
		if tempID != "" {
			if err := txn.Set(tempIndexKey(channelID, senderID, tempID), pk); err != nil {
				return err
			}
		}
		created = true
		return touchActivity(txn, channelID, rec.At)
	})
	if err != nil {
		return domain.Message{}, false, err
	}
	return toMessage(stored), created, nil
}

// ListSince scans a channel's history in ascending (timestamp, identifier)
// order starting after the given cursor. The returned cursor resumes the
// scan; nil means the start of the channel. The cursor is the key part after
// the channel prefix, so pagination survives restarts.
func (m MessageRepository) ListSince(channelID domain.ChannelID, cursor *string, limit int) ([]domain.Message, *string, error) {
	var records []diskMessage
	var lastKey string

	err := m.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey(channelID)); err != nil {
			if goerrors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrChannelNotFound
			}
			return err
		}

		prefix := messagePrefix(channelID)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := prefix
		if cursor != nil {
			seekKey = append(append([]byte{}, prefix...), []byte(*cursor)...)
		}
		it.Seek(seekKey)

		// The cursor names the last key already seen; step past it.
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(records) == limit {
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				var rec diskMessage
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, cursor, nil
	}

	messages := make([]domain.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, toMessage(rec))
	}
	return messages, &lastKey, nil
}

// MarkRead adds the reader to the read-by set of each message, all in one
// transaction so a partial update never becomes visible. Re-marking an
// already-read message is a no-op, not an error. Returns the messages whose
// read-by set actually changed.
func (m MessageRepository) MarkRead(channelID domain.ChannelID, messageIDs []string, readerID string) ([]domain.Message, error) {
	var updated []domain.Message

	err := update(m.db, func(txn *badger.Txn) error {
		updated = updated[:0]
		if _, err := txn.Get(idKey(channelID)); err != nil {
			if goerrors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrChannelNotFound
			}
			return err
		}

		for _, msgID := range messageIDs {
			pk, err := getValue(txn, messageIndexKey(channelID, msgID))
			if err != nil {
				if goerrors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: %s", errors.ErrMessageNotFound, msgID)
				}
				return err
			}
			raw, err := getValue(txn, pk)
			if err != nil {
				return err
			}
			var rec diskMessage
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}

			if containsString(rec.ReadBy, readerID) {
				continue
			}
			rec.ReadBy = append(rec.ReadBy, readerID)
			sort.Strings(rec.ReadBy)

			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(pk, data); err != nil {
				return err
			}
			updated = append(updated, toMessage(rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func toMessage(rec diskMessage) domain.Message {
	id, _ := uuid.Parse(rec.ID)
	return domain.Message{
		ID:         id,
		ChannelID:  domain.ChannelID(rec.ChannelID),
		SenderID:   rec.SenderID,
		SenderName: rec.SenderName,
		Content:    rec.Content,
		CreatedAt:  rec.At.UTC(),
		ReadBy:     rec.ReadBy,
	}
}
