package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

const (
	orphanPrefix = "orphans/"
	proofPrefix  = "proofs/"
)

// recordDoc is the JSON form of a MarketRecord in object storage. It carries
// ciphertext and commitment only.
type recordDoc struct {
	ID                string     `json:"id"`
	Hash              string     `json:"hash"`
	HashAlgorithm     string     `json:"hash_algorithm"`
	EncryptedCriteria string     `json:"encrypted_criteria"`
	EncryptedPassword string     `json:"encrypted_password,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	Revealed          bool       `json:"revealed,omitempty"`
	RevealedAt        *time.Time `json:"revealed_at,omitempty"`

	// Journal metadata.
	EntryID    string    `json:"entry_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

func toDoc(rec domain.MarketRecord) recordDoc {
	return recordDoc{
		ID:                rec.ID,
		Hash:              rec.CriteriaHash,
		HashAlgorithm:     rec.HashAlgorithm,
		EncryptedCriteria: rec.EncryptedCriteria,
		EncryptedPassword: rec.EncryptedPassword,
		CreatedAt:         rec.CreatedAt,
		Revealed:          rec.Revealed,
		RevealedAt:        rec.RevealedAt,
	}
}

func (d recordDoc) record() domain.MarketRecord {
	return domain.MarketRecord{
		ID:                d.ID,
		CriteriaHash:      d.Hash,
		HashAlgorithm:     d.HashAlgorithm,
		EncryptedCriteria: d.EncryptedCriteria,
		EncryptedPassword: d.EncryptedPassword,
		CreatedAt:         d.CreatedAt,
		Revealed:          d.Revealed,
		RevealedAt:        d.RevealedAt,
	}
}

// BlobStore is what the journal needs from object storage.
type BlobStore interface {
	domain.BlobWriter
	domain.BlobReader
	domain.BlobDeleter
}

// Store joins a Writer and a Reader on the same bucket into a BlobStore.
type Store struct {
	*Writer
	*Reader
}

// NewStore returns a Store backed by c.
func NewStore(c *Client) Store {
	return Store{Writer: NewWriter(c), Reader: NewReader(c)}
}

// Journal implements domain.OrphanJournal and domain.ProofArchive on top of a
// blob store.
//
// Key schema:
//
//	orphans/{id}.json - a record whose store insert failed
//	proofs/{id}.json  - the public commitment of a created market
type Journal struct {
	blobs BlobStore
	now   func() time.Time
}

// NewJournal creates a Journal.
func NewJournal(blobs BlobStore) *Journal {
	return &Journal{blobs: blobs, now: time.Now}
}

// Record writes rec to the orphan journal, replacing an older entry for the
// same id.
func (j *Journal) Record(ctx context.Context, rec domain.MarketRecord) error {
	doc := toDoc(rec)
	doc.EntryID = uuid.NewString()
	doc.RecordedAt = j.now().UTC()
	if err := j.put(ctx, orphanKey(rec.ID), doc); err != nil {
		return fmt.Errorf("s3blob: journal %s: %w", rec.ID, err)
	}
	return nil
}

// Pending returns every journalled record.
func (j *Journal) Pending(ctx context.Context) ([]domain.MarketRecord, error) {
	infos, err := j.blobs.List(ctx, orphanPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list journal: %w", err)
	}

	out := make([]domain.MarketRecord, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, ".json") {
			continue
		}
		doc, err := j.get(ctx, info.Path)
		if err != nil {
			return nil, fmt.Errorf("s3blob: read journal %s: %w", info.Path, err)
		}
		out = append(out, doc.record())
	}
	return out, nil
}

// Resolve removes the journal entry for id.
func (j *Journal) Resolve(ctx context.Context, id string) error {
	if err := j.blobs.Delete(ctx, orphanKey(id)); err != nil {
		return fmt.Errorf("s3blob: resolve journal %s: %w", id, err)
	}
	return nil
}

// Archive uploads the public proof for rec.
func (j *Journal) Archive(ctx context.Context, rec domain.MarketRecord) error {
	doc := toDoc(rec)
	doc.EncryptedPassword = ""
	if err := j.put(ctx, proofKey(rec.ID), doc); err != nil {
		return fmt.Errorf("s3blob: archive proof %s: %w", rec.ID, err)
	}
	return nil
}

func (j *Journal) put(ctx context.Context, key string, doc recordDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return j.blobs.Put(ctx, key, bytes.NewReader(data), "application/json")
}

func (j *Journal) get(ctx context.Context, key string) (recordDoc, error) {
	rc, err := j.blobs.Get(ctx, key)
	if err != nil {
		return recordDoc{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return recordDoc{}, err
	}
	var doc recordDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return recordDoc{}, err
	}
	return doc, nil
}

// orphanKey and proofKey keep ids from escaping their prefix.
func orphanKey(id string) string { return orphanPrefix + path.Base("/"+id) + ".json" }

func proofKey(id string) string { return proofPrefix + path.Base("/"+id) + ".json" }

var (
	_ domain.OrphanJournal = (*Journal)(nil)
	_ domain.ProofArchive  = (*Journal)(nil)
)
