package ingest

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/smsflow/smsflow/internal/core/domain"
	"github.com/smsflow/smsflow/internal/infra/broker"
)

// backupFile matches the common Android SMS backup XML layout:
// <smses count="..."><sms address="..." body="..." date="..."/></smses>
// The date attribute is epoch milliseconds.
type backupFile struct {
	XMLName xml.Name    `xml:"smses"`
	Entries []backupSMS `xml:"sms"`
}

type backupSMS struct {
	Address string `xml:"address,attr"`
	Body    string `xml:"body,attr"`
	Date    string `xml:"date,attr"`
}

// ReplayBackup parses an SMS backup XML file and publishes every entry
// to the raw stream with source=backup. Returns the number published;
// entries with missing fields are skipped and counted separately.
// Re-running a replay is safe: downstream dedup absorbs the repeats.
func ReplayBackup(ctx context.Context, publisher broker.Publisher, deviceID, path string) (published, skipped int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read backup file: %w", err)
	}

	var backup backupFile
	if err := xml.Unmarshal(data, &backup); err != nil {
		return 0, 0, fmt.Errorf("parse backup file: %w", err)
	}

	log := slog.With("component", "backup_replayer", "file", path)

	for _, entry := range backup.Entries {
		millis, convErr := strconv.ParseInt(entry.Date, 10, 64)
		if convErr != nil || entry.Body == "" || entry.Address == "" {
			log.Warn("skipping backup entry", "address", entry.Address, "date", entry.Date)
			skipped++
			continue
		}

		msg := domain.RawMessage{
			DeviceID:  deviceID,
			Body:      entry.Body,
			Sender:    entry.Address,
			Timestamp: millis / 1000,
			Source:    domain.SourceBackup,
		}

		payload, marshalErr := json.Marshal(&msg)
		if marshalErr != nil {
			skipped++
			continue
		}
		if pubErr := publisher.Publish(ctx, broker.SubjectRaw, payload); pubErr != nil {
			return published, skipped, fmt.Errorf("publish backup entry: %w", pubErr)
		}
		published++
	}

	log.Info("backup replay finished", "published", published, "skipped", skipped)
	return published, skipped, nil
}
