package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

// Firestore implements Store on top of a Firestore client.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (s *Firestore) FindRecordBySource(ctx context.Context, uid, storagePath string) (*models.StoredRecord, error) {
	docs, err := s.client.Collection(RecordsCollection(uid)).
		Where("source.storagePath", "==", storagePath).
		Limit(1).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var rec models.OcrRecord
	if err := docs[0].DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", docs[0].Ref.ID, err)
	}
	return &models.StoredRecord{ID: docs[0].Ref.ID, Record: rec}, nil
}

func (s *Firestore) CreateRecord(ctx context.Context, rec *models.OcrRecord) (string, error) {
	docRef := s.client.Collection(RecordsCollection(rec.UID)).NewDoc()
	if _, err := docRef.Set(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to create ocr record: %w", err)
	}
	return docRef.ID, nil
}

func (s *Firestore) MarkProjected(ctx context.Context, uid, recordID string, at time.Time) error {
	updates := []firestore.Update{
		{Path: "status.projected", Value: true},
		{Path: "updatedAt", Value: at},
	}
	if _, err := s.client.Doc(RecordPath(uid, recordID)).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to mark record %s projected: %w", recordID, err)
	}
	return nil
}

func (s *Firestore) MergeDocument(ctx context.Context, path string, data map[string]any) error {
	if _, err := s.client.Doc(path).Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to merge document %s: %w", path, err)
	}
	return nil
}

func (s *Firestore) UpdateUsage(ctx context.Context, uid, dateKey string, fn UsageTxFunc) error {
	ref := s.client.Doc(UsagePath(uid, dateKey))
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var rec models.UsageRecord
		exists := true
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			exists = false
		case err != nil:
			return fmt.Errorf("failed to read usage %s: %w", ref.Path, err)
		default:
			if err := snap.DataTo(&rec); err != nil {
				return fmt.Errorf("failed to decode usage %s: %w", ref.Path, err)
			}
		}

		write, err := fn(&rec, exists)
		if err != nil || !write {
			return err
		}
		return tx.Set(ref, rec)
	})
}
