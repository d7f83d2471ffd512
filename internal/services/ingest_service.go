package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/p2psettle/backend/internal/audit"
	"github.com/p2psettle/backend/internal/models"
	"github.com/p2psettle/backend/internal/parser"
)

// SourceMetadata accompanies a raw document from the ingestion feed.
type SourceMetadata struct {
	FileName   string    `json:"file_name"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

// IngestService accepts raw receipt documents, dedups them by content hash
// and hands the extracted text to the parser. Unparsable documents are
// quarantined, never dropped.
type IngestService struct {
	store       ReconStore
	redis       *redis.Client
	extractor   parser.TextExtractor
	parser      *parser.Parser
	audit       *audit.Logger
	dedupWindow time.Duration
}

func NewIngestService(store ReconStore, redisClient *redis.Client, extractor parser.TextExtractor, dedupWindow time.Duration) *IngestService {
	return &IngestService{
		store:       store,
		redis:       redisClient,
		extractor:   extractor,
		parser:      parser.New(),
		audit:       audit.NewLogger(),
		dedupWindow: dedupWindow,
	}
}

// Ingest processes one document end to end. Extraction failures leave the
// document pending (retryable); parse failures are terminal for this
// content hash and land in quarantine.
func (s *IngestService) Ingest(ctx context.Context, document []byte, meta SourceMetadata) (*models.Receipt, error) {
	sum := sha256.Sum256(document)
	hash := hex.EncodeToString(sum[:])

	if dup, err := s.seen(ctx, hash); err != nil {
		return nil, err
	} else if dup != nil {
		log.Printf("[INGEST] duplicate document %s (hash %s)", meta.FileName, hash[:12])
		return dup, models.ErrDuplicateReceipt
	}

	text, err := s.extractor.ExtractText(ctx, document)
	if err != nil {
		// Leave the item pending: release the dedup window so a later
		// delivery retries extraction.
		s.releaseDedup(ctx, hash)
		return nil, fmt.Errorf("extracting %s: %w", meta.FileName, err)
	}

	receipt := s.parser.Parse(meta.FileName, text)
	receipt.ContentHash = hash

	if err := s.store.SaveReceipt(ctx, receipt); err != nil {
		if err == models.ErrDuplicateReceipt {
			existing, lookupErr := s.store.ReceiptByHash(ctx, hash)
			if lookupErr == nil && existing != nil {
				return existing, models.ErrDuplicateReceipt
			}
		}
		return nil, fmt.Errorf("saving receipt %s: %w", meta.FileName, err)
	}

	if receipt.ParseStatus == models.ParseFailed {
		s.audit.LogQuarantine(receipt.ID, receipt.FileName, receipt.FailReason)
	}
	return receipt, nil
}

// seen consults the Redis dedup window first and the store second. Redis
// is an optimization; the content-hash unique constraint is authoritative.
func (s *IngestService) seen(ctx context.Context, hash string) (*models.Receipt, error) {
	if s.redis != nil {
		fresh, err := s.redis.SetNX(ctx, dedupKey(hash), 1, s.dedupWindow).Result()
		if err == nil && !fresh {
			if existing, err := s.store.ReceiptByHash(ctx, hash); err == nil && existing != nil {
				return existing, nil
			}
		}
	}
	existing, err := s.store.ReceiptByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("checking content hash: %w", err)
	}
	return existing, nil
}

func (s *IngestService) releaseDedup(ctx context.Context, hash string) {
	if s.redis != nil {
		s.redis.Del(ctx, dedupKey(hash))
	}
}

func dedupKey(hash string) string {
	return "recon:dedup:" + hash
}
