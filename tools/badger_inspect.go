package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

// Read-only dump of the broker's store. Defaults to message records; point
// -prefix at "chan:pair:" or "user:id:" to inspect the other buckets.
func main() {
	dbPath := flag.String("db", "./badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Entity ID", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			rawKey := string(item.Key())

			// Secondary indexes hold nothing human-readable
			if strings.HasPrefix(rawKey, "msgidx:") || strings.HasPrefix(rawKey, "chan:id:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				kind, at, entityID, detail := describe(rawKey, v)
				displayID := entityID
				if len(displayID) > 8 {
					displayID = displayID[:8]
				}
				table.Append([]string{rawKey, kind, at, displayID, detail})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

// describe decodes a record into the columns of the dump, falling back to a
// raw preview when the value is not one of the known record shapes.
func describe(key string, value []byte) (kind, at, entityID, detail string) {
	switch {
	case strings.HasPrefix(key, "msg:"):
		var rec struct {
			ID      string    `json:"id"`
			Sender  string    `json:"sender_name"`
			Content string    `json:"content"`
			At      time.Time `json:"at"`
			ReadBy  []string  `json:"read_by"`
		}
		if err := json.Unmarshal(value, &rec); err == nil {
			detail := fmt.Sprintf("%s: %s (read by %d)", rec.Sender, rec.Content, len(rec.ReadBy))
			return "MESSAGE", rec.At.Format("15:04:05"), rec.ID, detail
		}

	case strings.HasPrefix(key, "chan:pair:"):
		var rec struct {
			ID           string    `json:"id"`
			Participants [2]string `json:"participants"`
			LastActivity time.Time `json:"last_activity"`
		}
		if err := json.Unmarshal(value, &rec); err == nil {
			detail := fmt.Sprintf("%s <-> %s", rec.Participants[0], rec.Participants[1])
			return "CHANNEL", rec.LastActivity.Format("15:04:05"), rec.ID, detail
		}

	case strings.HasPrefix(key, "user:"):
		var rec struct {
			ID          string `json:"id"`
			Email       string `json:"email"`
			DisplayName string `json:"display_name"`
			Role        string `json:"role"`
		}
		if err := json.Unmarshal(value, &rec); err == nil {
			detail := fmt.Sprintf("%s <%s> %s", rec.DisplayName, rec.Email, rec.Role)
			return "USER", "", rec.ID, detail
		}
	}

	preview := string(value)
	if len(preview) > 40 {
		preview = preview[:40] + "..."
	}
	return "RAW", "", "", preview
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	db, err := badger.Open(opts)
	if err != nil {
		// Corruption after a crash: open once in write mode to truncate,
		// then retry read-only.
		if strings.Contains(err.Error(), "Log truncate required") {
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)

			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
			db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
