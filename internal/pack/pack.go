// Package pack produces the distributable artifact of a merged group index.
//
// An artifact is two files in the destination directory: a zstd-compressed
// JSON Lines stream of documents and a YAML descriptor naming the index,
// the document count and the checksum of the stream.
package pack

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/amanrepo/internal/errors"
	"github.com/Aman-CERP/amanrepo/internal/index"
	"github.com/Aman-CERP/amanrepo/internal/storage"
)

const (
	// ArtifactName is the compressed document stream.
	ArtifactName = "group-index.jsonl.zst"
	// DescriptorName is the artifact descriptor.
	DescriptorName = "group-index.yaml"
	// FormatVersion is bumped on incompatible layout changes.
	FormatVersion = 1
)

// Request asks for the documents of Reader to be packed into Destination.
type Request struct {
	Index       index.MergedIndex
	Reader      index.Reader
	Destination string
}

// Descriptor describes a packed artifact.
type Descriptor struct {
	Format      int       `yaml:"format"`
	IndexID     string    `yaml:"index_id"`
	Documents   int       `yaml:"documents"`
	Compression string    `yaml:"compression"`
	SHA256      string    `yaml:"sha256"`
	CreatedAt   time.Time `yaml:"created_at"`
}

// line is one document in the JSON Lines stream.
type line struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Packer writes artifacts through a Storage.
type Packer struct {
	storage *storage.Storage
	level   zstd.EncoderLevel
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Packer.
type Option func(*Packer)

// WithLevel sets the zstd encoder level.
func WithLevel(level zstd.EncoderLevel) Option {
	return func(p *Packer) { p.level = level }
}

// WithClock sets the clock used for descriptor timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Packer) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Packer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPacker creates a Packer writing into st.
func NewPacker(st *storage.Storage, opts ...Option) *Packer {
	p := &Packer{
		storage: st,
		level:   zstd.SpeedDefault,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pack drains req.Reader into the artifact and writes the descriptor.
// The reader is closed when Pack returns.
func (p *Packer) Pack(ctx context.Context, req Request) error {
	if req.Reader == nil {
		return amerrors.New(amerrors.ErrCodePackFailed, "pack request has no reader", nil)
	}
	defer func() { _ = req.Reader.Close() }()

	indexID := ""
	if req.Index != nil {
		indexID = req.Index.ID()
	}

	start := time.Now()
	hasher := sha256.New()
	count := 0

	err := p.storage.Write(filepath.Join(req.Destination, ArtifactName), func(w io.Writer) error {
		enc, err := zstd.NewWriter(io.MultiWriter(w, hasher), zstd.WithEncoderLevel(p.level))
		if err != nil {
			return err
		}
		jenc := json.NewEncoder(enc)
		for {
			if err := ctx.Err(); err != nil {
				_ = enc.Close()
				return err
			}
			doc, err := req.Reader.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = enc.Close()
				return err
			}
			if err := jenc.Encode(line{ID: doc.ID, Fields: doc.Fields}); err != nil {
				_ = enc.Close()
				return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
			}
			count++
		}
		return enc.Close()
	})
	if err != nil {
		return amerrors.New(amerrors.ErrCodePackFailed, "failed to write artifact", err).
			WithDetail("index_id", indexID)
	}

	desc := Descriptor{
		Format:      FormatVersion,
		IndexID:     indexID,
		Documents:   count,
		Compression: "zstd",
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:   p.now().UTC(),
	}
	data, err := yaml.Marshal(&desc)
	if err != nil {
		return amerrors.New(amerrors.ErrCodePackFailed, "failed to encode descriptor", err)
	}
	if err := p.storage.WriteFile(filepath.Join(req.Destination, DescriptorName), data); err != nil {
		return amerrors.New(amerrors.ErrCodePackFailed, "failed to write descriptor", err).
			WithDetail("index_id", indexID)
	}

	p.logger.Debug("index_packed",
		slog.String("index_id", indexID),
		slog.Int("documents", count),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// Discard removes the artifact and descriptor under destination, along with
// their lock files. Missing files are not an error.
func Discard(st *storage.Storage, destination string) error {
	var errs []error
	for _, name := range []string{ArtifactName, DescriptorName} {
		if err := st.RemoveAll(filepath.Join(destination, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReadDescriptor loads the descriptor of the artifact in dir.
func (p *Packer) ReadDescriptor(dir string) (*Descriptor, error) {
	data, err := p.storage.ReadFile(filepath.Join(dir, DescriptorName))
	if err != nil {
		return nil, err
	}
	var desc Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "artifact descriptor is invalid", err)
	}
	if desc.Format != FormatVersion {
		return nil, amerrors.New(amerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("unsupported artifact format %d", desc.Format), nil)
	}
	return &desc, nil
}

// Unpack reads the artifact in dir back into documents, verifying the
// checksum and document count recorded in the descriptor. The artifact is
// held in memory while it is decoded.
func (p *Packer) Unpack(ctx context.Context, dir string) (*Descriptor, []index.Document, error) {
	desc, err := p.ReadDescriptor(dir)
	if err != nil {
		return nil, nil, err
	}

	data, err := p.storage.ReadFile(filepath.Join(dir, ArtifactName))
	if err != nil {
		return nil, nil, err
	}
	sum := sha256.Sum256(data)
	if actual := hex.EncodeToString(sum[:]); actual != desc.SHA256 {
		return nil, nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "artifact checksum mismatch", nil).
			WithDetail("expected", desc.SHA256).
			WithDetail("actual", actual)
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "artifact is not zstd", err)
	}
	defer dec.Close()

	var docs []index.Document
	jdec := json.NewDecoder(dec)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		var l line
		err := jdec.Decode(&l)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "failed to decode document", err)
		}
		docs = append(docs, index.Document{ID: l.ID, Fields: l.Fields})
	}

	if len(docs) != desc.Documents {
		return nil, nil, amerrors.New(amerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("artifact holds %d documents, descriptor says %d", len(docs), desc.Documents), nil)
	}
	return desc, docs, nil
}
